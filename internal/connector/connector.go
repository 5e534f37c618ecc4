// Package connector adapts a rendered star notification to each destination
// platform's native client or webhook.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"stardaemon/internal/domain"
	"stardaemon/internal/markdown"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const ellipsis = "..."

// Connector is one destination platform.
//
// Initialize performs session setup and is called once at startup; a
// connector whose Initialize or TestConnection fails is never used again.
// PostMessage must fit the message to the platform's limits itself. meta may
// be nil.
type Connector interface {
	Name() string
	Initialize(ctx context.Context) error
	TestConnection(ctx context.Context) error
	PostMessage(ctx context.Context, message string, meta *domain.Metadata) error
}

// Activate initializes and tests every connector and returns those that
// succeeded. Each step is bounded by timeout.
func Activate(
	ctx context.Context,
	connectors []Connector,
	timeout time.Duration,
	log *slog.Logger,
) []Connector {
	active := make([]Connector, 0, len(connectors))

	for _, c := range connectors {
		if err := Call(ctx, timeout, c.Initialize); err != nil {
			log.ErrorContext(ctx, "Failed to initialize connector so it is disabled",
				"connector", c.Name(),
				"error", err)

			continue
		}

		if err := Call(ctx, timeout, c.TestConnection); err != nil {
			log.ErrorContext(ctx, "Connector connection test failed so it is disabled",
				"connector", c.Name(),
				"error", err)

			continue
		}

		log.InfoContext(ctx, "Connector is active",
			"connector", c.Name())
		active = append(active, c)
	}

	return active
}

// Call runs fn with a timeout and converts a panic into an error.
func Call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(callCtx)
}

// Truncate shortens s to at most limit runes, marking the cut with an
// ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	if limit <= len(ellipsis) {
		return string(runes[:limit])
	}

	return string(runes[:limit-len(ellipsis)]) + ellipsis
}

// TruncateKeepingLinks is Truncate that shortens the text in front of the
// last link instead of cutting through it. When the link and what follows it
// leave no room for text, it falls back to Truncate.
func TruncateKeepingLinks(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	links := markdown.FindLinks(s)
	if len(links) == 0 {
		return Truncate(s, limit)
	}

	last := links[len(links)-1]
	head := strings.TrimRightFunc(s[:last.Start], unicode.IsSpace)
	sep := s[len(head):last.Start]
	tail := s[last.Start:]

	budget := limit - utf8.RuneCountInString(sep) - utf8.RuneCountInString(tail)
	if budget <= len(ellipsis) {
		return Truncate(s, limit)
	}

	return Truncate(head, budget) + sep + tail
}

// Names lists connector names for logging.
func Names(connectors []Connector) []string {
	names := make([]string, 0, len(connectors))
	for _, c := range connectors {
		names = append(names, c.Name())
	}

	return names
}
