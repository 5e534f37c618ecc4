package summarizer

import (
	"container/list"
	"sync"
	"time"
)

// summaryCache is a fixed-size LRU of summaries keyed by repository name.
// Entries older than ttl are dropped on access.
type summaryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	byName   map[string]*list.Element
	recent   *list.List // front is most recently used
}

type cachedSummary struct {
	name     string
	summary  string
	storedAt time.Time
}

func newSummaryCache(capacity int, ttl time.Duration) *summaryCache {
	if capacity <= 0 || ttl <= 0 {
		return nil
	}

	return &summaryCache{
		ttl:      ttl,
		capacity: capacity,
		byName:   make(map[string]*list.Element, capacity),
		recent:   list.New(),
	}
}

func (c *summaryCache) get(name string, now time.Time) (string, bool) {
	if c == nil || name == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byName[name]
	if !ok {
		return "", false
	}

	entry := elem.Value.(*cachedSummary)
	if c.expired(entry, now) {
		c.drop(elem)

		return "", false
	}

	c.recent.MoveToFront(elem)

	return entry.summary, true
}

func (c *summaryCache) put(name string, summary string, now time.Time) {
	if c == nil || name == "" || summary == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byName[name]; ok {
		entry := elem.Value.(*cachedSummary)
		entry.summary = summary
		entry.storedAt = now
		c.recent.MoveToFront(elem)

		return
	}

	if len(c.byName) >= c.capacity {
		c.pruneExpired(now)
	}
	for len(c.byName) >= c.capacity {
		c.drop(c.recent.Back())
	}

	c.byName[name] = c.recent.PushFront(&cachedSummary{
		name:     name,
		summary:  summary,
		storedAt: now,
	})
}

func (c *summaryCache) len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.byName)
}

func (c *summaryCache) expired(entry *cachedSummary, now time.Time) bool {
	return now.Sub(entry.storedAt) > c.ttl
}

func (c *summaryCache) pruneExpired(now time.Time) {
	for elem := c.recent.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*cachedSummary), now) {
			c.drop(elem)
		}
		elem = prev
	}
}

func (c *summaryCache) drop(elem *list.Element) {
	delete(c.byName, elem.Value.(*cachedSummary).name)
	c.recent.Remove(elem)
}
