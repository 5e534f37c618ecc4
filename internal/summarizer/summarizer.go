package summarizer

import (
	"context"
	"strings"
	"time"
)

const (
	defaultCacheMaxEntries = 1024
	defaultCacheTTL        = 24 * time.Hour
)

// Input describes the payload for a summary request.
type Input struct {
	// Name is the repository full name; it keys the cache.
	Name string
	// Text contains the description, language and topics to summarise.
	Text string
	// SourceURL is optional metadata that helps the model reference the origin.
	SourceURL string
}

// Summarizer produces a single summary for a given input text.
type Summarizer interface {
	Summarize(ctx context.Context, input Input) (string, error)
}

// Cached wraps a Summarizer with an LRU cache keyed by repository name.
// Errors are not cached.
type Cached struct {
	inner Summarizer
	cache *summaryCache
	now   func() time.Time
}

func NewCached(inner Summarizer) *Cached {
	return &Cached{
		inner: inner,
		cache: newSummaryCache(defaultCacheMaxEntries, defaultCacheTTL),
		now:   time.Now,
	}
}

func (c *Cached) Summarize(ctx context.Context, input Input) (string, error) {
	key := strings.TrimSpace(input.Name)
	now := c.now().UTC()

	if summary, ok := c.cache.get(key, now); ok {
		return summary, nil
	}

	summary, err := c.inner.Summarize(ctx, input)
	if err != nil {
		return "", err
	}

	summary = strings.TrimSpace(summary)
	c.cache.put(key, summary, now)

	return summary, nil
}
