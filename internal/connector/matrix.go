package connector

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"stardaemon/internal/config"
	"stardaemon/internal/domain"
	"stardaemon/internal/markdown"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	// Well under the 64 KiB event limit.
	matrixMaxLength = 16000

	matrixDeviceName = "star-daemon"
)

// Matrix sends m.room.message events to a single room.
type Matrix struct {
	cfg    config.MatrixConfig
	client *mautrix.Client
	roomID id.RoomID
	log    *slog.Logger
}

func NewMatrix(cfg config.MatrixConfig, log *slog.Logger) *Matrix {
	return &Matrix{cfg: cfg, log: log}
}

func (m *Matrix) Name() string {
	return "Matrix"
}

// Initialize uses the access token when present and falls back to a
// password login.
func (m *Matrix) Initialize(ctx context.Context) error {
	homeserver := strings.TrimRight(strings.TrimSpace(m.cfg.Homeserver), "/")
	userID := id.UserID(strings.TrimSpace(m.cfg.UserID))

	client, err := mautrix.NewClient(homeserver, userID, m.cfg.AccessToken)
	if err != nil {
		return fmt.Errorf("%w: create Matrix client: %w", domain.ErrConfiguration, err)
	}

	if m.cfg.AccessToken == "" {
		localpart, _, err := userID.Parse()
		if err != nil {
			localpart = string(userID)
		}

		_, err = client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: localpart,
			},
			Password:                 m.cfg.Password,
			InitialDeviceDisplayName: matrixDeviceName,
			StoreCredentials:         true,
		})
		if err != nil {
			return fmt.Errorf("%w: Matrix password login: %w", domain.ErrAuthentication, err)
		}
	}

	roomID, err := m.resolveRoom(ctx, client)
	if err != nil {
		return err
	}

	m.client = client
	m.roomID = roomID

	m.log.InfoContext(ctx, "Matrix connector is initialized",
		"homeserver", homeserver,
		"userID", client.UserID.String(),
		"roomID", roomID.String())

	return nil
}

func (m *Matrix) TestConnection(ctx context.Context) error {
	if m.client == nil {
		return errors.New("matrix connector is not initialized")
	}

	whoami, err := m.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("%w: Matrix whoami: %w", domain.ErrAuthentication, err)
	}

	m.log.InfoContext(ctx, "Matrix connection test succeeded",
		"userID", whoami.UserID.String())

	return nil
}

func (m *Matrix) PostMessage(ctx context.Context, message string, meta *domain.Metadata) error {
	if m.client == nil {
		return errors.New("matrix connector is not initialized")
	}

	resp, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, buildMatrixContent(message, meta))
	if err != nil {
		return fmt.Errorf("send Matrix message: %w", classifyMatrixError(err))
	}

	m.log.InfoContext(ctx, "Posted to Matrix",
		"eventID", resp.EventID.String())

	return nil
}

func (m *Matrix) resolveRoom(ctx context.Context, client *mautrix.Client) (id.RoomID, error) {
	room := strings.TrimSpace(m.cfg.RoomID)

	if !strings.HasPrefix(room, "#") {
		return id.RoomID(room), nil
	}

	resp, err := client.ResolveAlias(ctx, id.RoomAlias(room))
	if err != nil {
		return "", fmt.Errorf("%w: resolve Matrix room alias %q: %w", domain.ErrConfiguration, room, err)
	}

	return resp.RoomID, nil
}

func buildMatrixContent(message string, meta *domain.Metadata) *event.MessageEventContent {
	body := TruncateKeepingLinks(message, matrixMaxLength)
	formatted := markdown.HTML(body)

	if meta != nil {
		header := "⭐ **Starred Repository**"
		htmlHeader := "⭐ <strong>Starred Repository</strong>"

		body = header + "\n\n" + body
		formatted = htmlHeader + "<br><br>" + formatted

		if meta.Description != "" {
			body += "\n\n" + meta.Description
			formatted += "<br><br><em>" + html.EscapeString(meta.Description) + "</em>"
		}
	}

	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          body,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

func classifyMatrixError(err error) error {
	var httpErr mautrix.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Response == nil {
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}

	switch code := httpErr.Response.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	case code == http.StatusTooManyRequests:
		return &domain.RateLimitError{Err: err}
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	default:
		return err
	}
}
