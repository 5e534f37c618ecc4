package ratelimiter

import (
	"context"
	"log/slog"
	"stardaemon/internal/domain"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	privateChatRate = time.Second
	groupChatRate   = 3 * time.Second

	// Discord allows 30 webhook executions per minute.
	DiscordWebhookRate = 2 * time.Second
	DefaultRate        = time.Second
)

// Poster is the connector method set; it mirrors connector.Connector.
type Poster interface {
	Name() string
	Initialize(ctx context.Context) error
	TestConnection(ctx context.Context) error
	PostMessage(ctx context.Context, message string, meta *domain.Metadata) error
}

// RateLimiter spaces consecutive posts to one destination at least rate
// apart. Setup calls pass straight through.
type RateLimiter struct {
	inner    Poster
	rate     time.Duration
	lastSent time.Time
	mu       sync.Mutex
	log      *slog.Logger
}

func New(inner Poster, rate time.Duration, log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		inner: inner,
		rate:  rate,
		log:   log,
	}
}

func (rl *RateLimiter) Name() string {
	return rl.inner.Name()
}

func (rl *RateLimiter) Initialize(ctx context.Context) error {
	return rl.inner.Initialize(ctx)
}

func (rl *RateLimiter) TestConnection(ctx context.Context) error {
	return rl.inner.TestConnection(ctx)
}

// PostMessage waits out the remaining delay, or returns ctx's error if it is
// done first.
func (rl *RateLimiter) PostMessage(ctx context.Context, message string, meta *domain.Metadata) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.lastSent.IsZero() {
		if delay := getDelay(rl.rate, rl.lastSent); delay > 0 {
			rl.log.DebugContext(ctx, "Rate limiting message",
				"connector", rl.inner.Name(),
				"delay", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	err := rl.inner.PostMessage(ctx, message, meta)
	rl.lastSent = time.Now()

	return err
}

// TelegramRate is the pacing for a Telegram chat: groups and channels
// (negative IDs or @usernames) are throttled harder than private chats.
func TelegramRate(chatID string) time.Duration {
	chatID = strings.TrimSpace(chatID)
	if strings.HasPrefix(chatID, "@") {
		return groupChatRate
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return groupChatRate
	}

	return getRate(id)
}

func getDelay(rate time.Duration, lastSent time.Time) time.Duration {
	elapsed := time.Since(lastSent)

	return max(rate-elapsed, 0)
}

func getRate(chatID int64) time.Duration {
	if chatID < 0 {
		return groupChatRate
	}
	return privateChatRate
}
