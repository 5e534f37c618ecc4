// Package dispatcher renders a star notification and fans it out to every
// active connector.
package dispatcher

import (
	"context"
	"log/slog"
	"stardaemon/internal/connector"
	"stardaemon/internal/domain"
	"stardaemon/internal/summarizer"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	maxParallelPosts = 4
	summaryTimeout   = 15 * time.Second
)

type Options struct {
	Template           string
	IncludeDescription bool
	MaxMessageLength   int
	// Timeout bounds each connector call.
	Timeout time.Duration
}

type Dispatcher struct {
	connectors []connector.Connector
	opts       Options
	summarizer summarizer.Summarizer
	log        *slog.Logger
}

// New builds a dispatcher. s may be nil, in which case {summary} falls back
// to the description.
func New(
	connectors []connector.Connector,
	opts Options,
	s summarizer.Summarizer,
	log *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		connectors: connectors,
		opts:       opts,
		summarizer: s,
		log:        log,
	}
}

func (d *Dispatcher) Connectors() []string {
	return connector.Names(d.connectors)
}

// Dispatch posts repo to every connector and returns one result per
// connector, in connector order. It never fails as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, repo domain.StarredRepository) []domain.NotificationResult {
	summary := d.summarize(ctx, repo)
	message := compose(d.opts, repo, summary)
	meta := domain.NewMetadata(repo, summary)

	d.log.InfoContext(ctx, "New star detected",
		"repo", repo.FullName,
		"connectors", len(d.connectors))

	results := make([]domain.NotificationResult, len(d.connectors))

	g := errgroup.Group{}
	g.SetLimit(maxParallelPosts)

	for i, c := range d.connectors {
		g.Go(func() error {
			started := time.Now()

			err := connector.Call(ctx, d.opts.Timeout, func(callCtx context.Context) error {
				return c.PostMessage(callCtx, message, meta)
			})

			results[i] = domain.NotificationResult{
				Connector: c.Name(),
				Repo:      repo.FullName,
				OK:        err == nil,
				Err:       err,
				Duration:  time.Since(started),
			}

			return nil
		})
	}

	_ = g.Wait()

	for _, r := range results {
		if r.OK {
			d.log.InfoContext(ctx, "Posted star notification",
				"connector", r.Connector,
				"repo", r.Repo,
				"duration", r.Duration.String())

			continue
		}

		d.log.ErrorContext(ctx, "Failed to post star notification",
			"connector", r.Connector,
			"repo", r.Repo,
			"duration", r.Duration.String(),
			"error", r.Err)
	}

	return results
}

func (d *Dispatcher) summarize(ctx context.Context, repo domain.StarredRepository) string {
	if d.summarizer == nil || !needsSummary(d.opts.Template) {
		return ""
	}

	text := summaryText(repo)
	if text == "" {
		return ""
	}

	summaryCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	summary, err := d.summarizer.Summarize(summaryCtx, summarizer.Input{
		Name:      repo.FullName,
		Text:      text,
		SourceURL: repo.URL,
	})
	if err != nil {
		d.log.WarnContext(ctx, "Failed to summarize repository",
			"repo", repo.FullName,
			"fallback", true,
			"error", err)

		return ""
	}

	return summary
}

func summaryText(repo domain.StarredRepository) string {
	parts := make([]string, 0, 3)

	if description := strings.TrimSpace(repo.Description); description != "" {
		parts = append(parts, description)
	}
	if repo.Language != "" {
		parts = append(parts, "Language: "+repo.Language)
	}
	if len(repo.Topics) > 0 {
		parts = append(parts, "Topics: "+strings.Join(repo.Topics, ", "))
	}

	return strings.Join(parts, "\n")
}
