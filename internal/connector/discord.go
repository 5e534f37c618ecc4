package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"stardaemon/internal/config"
	"stardaemon/internal/domain"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxContentLength      = 2000
	discordMaxEmbedDescription   = 4096
	discordMaxEmbedFieldValue    = 1024
	discordMaxEmbedTitle         = 256
	discordEmbedColor            = 0xFFD700
	discordConnectionTestMessage = "🤖 Star-Daemon connection test successful!"
)

//nolint:gochecknoglobals // Read-only.
var discordWebhookPrefixes = []string{
	"https://discord.com/api/webhooks/",
	"https://discordapp.com/api/webhooks/",
	"https://canary.discord.com/api/webhooks/",
	"https://ptb.discord.com/api/webhooks/",
}

// Discord posts through an incoming webhook.
type Discord struct {
	cfg     config.DiscordConfig
	session *discordgo.Session
	now     func() time.Time
	log     *slog.Logger

	webhookID    string
	webhookToken string
}

func NewDiscord(cfg config.DiscordConfig, log *slog.Logger) *Discord {
	// A session without a bot token only talks to webhook endpoints.
	session, _ := discordgo.New("")
	session.ShouldRetryOnRateLimit = false
	session.MaxRestRetries = 0

	return &Discord{
		cfg:     cfg,
		session: session,
		now:     time.Now,
		log:     log,
	}
}

func (d *Discord) Name() string {
	return "Discord"
}

func (d *Discord) Initialize(ctx context.Context) error {
	webhookURL := strings.TrimSpace(d.cfg.WebhookURL)

	id, token, ok := parseDiscordWebhookURL(webhookURL)
	if !ok {
		return fmt.Errorf("%w: invalid Discord webhook URL", domain.ErrConfiguration)
	}

	d.webhookID = id
	d.webhookToken = token

	d.log.InfoContext(ctx, "Discord connector is initialized",
		"roleMention", d.cfg.RoleID != "")

	return nil
}

// TestConnection fetches the webhook, which validates its token without
// posting. With TestOnStart a visible test message is sent instead.
func (d *Discord) TestConnection(ctx context.Context) error {
	if d.cfg.TestOnStart {
		params := &discordgo.WebhookParams{
			Content:         discordConnectionTestMessage,
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
		}
		if err := d.execute(ctx, params); err != nil {
			return fmt.Errorf("send Discord test message: %w", err)
		}

		d.log.InfoContext(ctx, "Discord connection test succeeded",
			"mode", "message")

		return nil
	}

	if d.webhookID == "" {
		return errors.New("discord connector is not initialized")
	}

	webhook, err := d.session.WebhookWithToken(d.webhookID, d.webhookToken, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("get Discord webhook: %w", classifyDiscordError(err, d.now()))
	}

	d.log.InfoContext(ctx, "Discord connection test succeeded",
		"mode", "lookup",
		"webhookName", webhook.Name)

	return nil
}

func (d *Discord) PostMessage(ctx context.Context, message string, meta *domain.Metadata) error {
	if err := d.execute(ctx, d.buildParams(message, meta)); err != nil {
		return fmt.Errorf("execute Discord webhook: %w", err)
	}

	d.log.InfoContext(ctx, "Posted to Discord via webhook")

	return nil
}

func (d *Discord) buildParams(message string, meta *domain.Metadata) *discordgo.WebhookParams {
	params := &discordgo.WebhookParams{
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}

	var mention string
	if d.cfg.RoleID != "" {
		mention = "<@&" + d.cfg.RoleID + ">"
		params.AllowedMentions.Roles = []string{d.cfg.RoleID}
	}

	if meta == nil {
		if mention != "" {
			message = mention + " " + message
		}
		params.Content = TruncateKeepingLinks(message, discordMaxContentLength)

		return params
	}

	name := meta.FullName
	if name == "" {
		name = "Repository"
	}

	embed := &discordgo.MessageEmbed{
		Title:       Truncate("⭐ Starred: "+name, discordMaxEmbedTitle),
		Description: TruncateKeepingLinks(message, discordMaxEmbedDescription),
		URL:         meta.URL,
		Color:       discordEmbedColor,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}

	if meta.Description != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Description",
			Value: Truncate(meta.Description, discordMaxEmbedFieldValue),
		})
	}
	if meta.Language != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Language",
			Value:  meta.Language,
			Inline: true,
		})
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Stars",
		Value:  meta.StarsString(),
		Inline: true,
	})

	if meta.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: meta.ThumbnailURL}
	}

	params.Content = mention
	params.Embeds = []*discordgo.MessageEmbed{embed}

	return params
}

func (d *Discord) execute(ctx context.Context, params *discordgo.WebhookParams) error {
	if d.webhookID == "" {
		return errors.New("discord connector is not initialized")
	}

	_, err := d.session.WebhookExecute(d.webhookID, d.webhookToken, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordError(err, d.now())
	}

	return nil
}

// parseDiscordWebhookURL splits a webhook URL into its ID and token.
func parseDiscordWebhookURL(webhookURL string) (string, string, bool) {
	for _, prefix := range discordWebhookPrefixes {
		rest, found := strings.CutPrefix(webhookURL, prefix)
		if !found {
			continue
		}

		if i := strings.IndexAny(rest, "?#"); i >= 0 {
			rest = rest[:i]
		}

		id, token, found := strings.Cut(strings.TrimSuffix(rest, "/"), "/")
		if !found || id == "" || token == "" || strings.Contains(token, "/") {
			return "", "", false
		}

		return id, token, true
	}

	return "", "", false
}

// classifyDiscordError maps discordgo failures onto the domain error kinds.
func classifyDiscordError(err error, now time.Time) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		var reset time.Time
		if rateErr.RateLimit != nil && rateErr.TooManyRequests != nil && rateErr.RetryAfter > 0 {
			reset = now.Add(rateErr.RetryAfter)
		}

		return &domain.RateLimitError{Reset: reset, Err: err}
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch status := restErr.Response.StatusCode; {
		case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound:
			return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
		case status == http.StatusTooManyRequests:
			return &domain.RateLimitError{Err: err}
		case status >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
		default:
			return err
		}
	}

	if errors.Is(err, discordgo.ErrJSONUnmarshal) {
		return err
	}

	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}

// discordErrorCode returns the JSON error code of a Discord REST failure, or 0.
func discordErrorCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code
	}

	return 0
}
