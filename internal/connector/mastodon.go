package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"stardaemon/internal/config"
	"stardaemon/internal/domain"
	"strings"

	"github.com/mattn/go-mastodon"
)

// Instances may allow more; 500 is the upstream default.
const mastodonMaxLength = 500

type Mastodon struct {
	cfg    config.MastodonConfig
	client *mastodon.Client
	log    *slog.Logger
}

func NewMastodon(cfg config.MastodonConfig, log *slog.Logger) *Mastodon {
	return &Mastodon{cfg: cfg, log: log}
}

func (m *Mastodon) Name() string {
	return "Mastodon"
}

func (m *Mastodon) Initialize(ctx context.Context) error {
	server := strings.TrimRight(strings.TrimSpace(m.cfg.APIBaseURL), "/")

	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid Mastodon API base URL %q", domain.ErrConfiguration, server)
	}

	m.client = mastodon.NewClient(&mastodon.Config{
		Server:       server,
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		AccessToken:  m.cfg.AccessToken,
	})

	account, err := m.client.GetAccountCurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("%w: verify Mastodon credentials: %w", domain.ErrAuthentication, err)
	}

	m.log.InfoContext(ctx, "Mastodon connector is initialized",
		"server", server,
		"username", account.Username)

	return nil
}

func (m *Mastodon) TestConnection(ctx context.Context) error {
	if m.client == nil {
		return errors.New("mastodon connector is not initialized")
	}

	account, err := m.client.GetAccountCurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("verify Mastodon credentials: %w", err)
	}

	m.log.InfoContext(ctx, "Mastodon connection test succeeded",
		"username", account.Username)

	return nil
}

func (m *Mastodon) PostMessage(ctx context.Context, message string, _ *domain.Metadata) error {
	if m.client == nil {
		return errors.New("mastodon connector is not initialized")
	}

	status, err := m.client.PostStatus(ctx, &mastodon.Toot{
		Status:     TruncateKeepingLinks(message, mastodonMaxLength),
		Visibility: m.cfg.Visibility,
	})
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}

	m.log.InfoContext(ctx, "Posted to Mastodon",
		"statusURL", status.URL)

	return nil
}
