package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"stardaemon/internal/config"
	"stardaemon/internal/domain"
	"stardaemon/internal/markdown"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const telegramMaxLength = 4096

// Telegram sends MarkdownV2 messages to one chat through the Bot API.
type Telegram struct {
	cfg       config.TelegramConfig
	serverURL string
	api       *bot.Bot
	chatID    any
	log       *slog.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *slog.Logger) *Telegram {
	return &Telegram{cfg: cfg, log: log}
}

func (t *Telegram) Name() string {
	return "Telegram"
}

func (t *Telegram) Initialize(ctx context.Context) error {
	token := strings.TrimSpace(t.cfg.BotToken)

	opts := []bot.Option{bot.WithSkipGetMe()}
	if t.serverURL != "" {
		opts = append(opts, bot.WithServerURL(t.serverURL))
	}

	api, err := bot.New(token, opts...)
	if err != nil {
		return fmt.Errorf("%w: create Telegram bot: %w", domain.ErrConfiguration, err)
	}

	t.api = api
	t.chatID = parseChatID(t.cfg.ChatID)

	t.log.InfoContext(ctx, "Telegram connector is initialized",
		"chatID", t.chatID)

	return nil
}

func (t *Telegram) TestConnection(ctx context.Context) error {
	if t.api == nil {
		return errors.New("telegram connector is not initialized")
	}

	me, err := t.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get Telegram bot: %w", classifyTelegramError(err))
	}

	t.log.InfoContext(ctx, "Telegram connection test succeeded",
		"username", me.Username)

	return nil
}

func (t *Telegram) PostMessage(ctx context.Context, message string, meta *domain.Metadata) error {
	if t.api == nil {
		return errors.New("telegram connector is not initialized")
	}

	disabled := meta == nil
	msg, err := t.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             t.chatID,
		Text:               buildTelegramText(message, meta),
		ParseMode:          models.ParseModeMarkdown,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: &disabled},
	})
	if err != nil {
		return fmt.Errorf("send Telegram message: %w", classifyTelegramError(err))
	}

	t.log.InfoContext(ctx, "Posted to Telegram",
		"messageID", msg.ID)

	return nil
}

func buildTelegramText(message string, meta *domain.Metadata) string {
	var prefix string
	if meta != nil && meta.FullName != "" && meta.URL != "" {
		prefix = "⭐ [" + markdown.EscapeV2(meta.FullName) + "](" + markdown.EscapeV2URL(meta.URL) + ")\n\n"
	}

	return prefix + fitEscaped(message, telegramMaxLength-utf8.RuneCountInString(prefix))
}

// fitEscaped truncates s so that its MarkdownV2-escaped form fits limit.
func fitEscaped(s string, limit int) string {
	n := limit
	for n > 0 {
		escaped := markdown.EscapeV2(TruncateKeepingLinks(s, n))

		over := utf8.RuneCountInString(escaped) - limit
		if over <= 0 {
			return escaped
		}

		// Each dropped rune frees at most two escaped runes.
		n -= (over + 1) / 2
	}

	return ""
}

// parseChatID accepts numeric IDs and @channel usernames.
func parseChatID(raw string) any {
	raw = strings.TrimSpace(raw)

	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return chatID
	}

	return raw
}

func classifyTelegramError(err error) error {
	var tooMany *bot.TooManyRequestsError
	switch {
	case errors.As(err, &tooMany):
		return &domain.RateLimitError{
			Reset: time.Now().Add(time.Duration(tooMany.RetryAfter) * time.Second),
			Err:   err,
		}
	case errors.Is(err, bot.ErrorUnauthorized), errors.Is(err, bot.ErrorForbidden):
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	default:
		return err
	}
}
