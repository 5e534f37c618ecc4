package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"stardaemon/internal/domain"
	"sync"
)

// Store persists the seen-set. Load reports found=false when no state was
// ever saved. Save receives the complete set and must be atomic: a reader
// never observes a partial write.
type Store interface {
	Load(ctx context.Context) (names []string, found bool, err error)
	Save(ctx context.Context, names []string) error
}

// Tracker is the in-memory seen-set backed by a Store. Identifiers are only
// ever added.
type Tracker struct {
	store Store
	log   *slog.Logger

	mu          sync.RWMutex
	seen        map[string]struct{}
	dirty       bool
	initialized bool
}

func New(store Store, log *slog.Logger) *Tracker {
	return &Tracker{
		store: store,
		log:   log,
		seen:  make(map[string]struct{}),
	}
}

// Load replaces the in-memory set with the persisted one and reports whether
// prior state existed. Unreadable state is logged and treated as absent.
func (t *Tracker) Load(ctx context.Context) bool {
	names, found, err := t.store.Load(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seen = make(map[string]struct{}, len(names))
	t.dirty = false
	t.initialized = false

	if err != nil {
		t.log.WarnContext(ctx, "Failed to load seen-set so starting empty",
			"error", err)

		return false
	}

	for _, name := range names {
		if name != "" {
			t.seen[name] = struct{}{}
		}
	}

	t.initialized = found

	t.log.InfoContext(ctx, "Seen-set is loaded",
		"count", len(t.seen),
		"found", found)

	return found
}

// Diff returns the repositories of current that are not in the set, in
// their original order.
func (t *Tracker) Diff(current []domain.StarredRepository) []domain.StarredRepository {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var fresh []domain.StarredRepository
	queued := make(map[string]struct{})

	for _, repo := range current {
		if _, ok := t.seen[repo.FullName]; ok {
			continue
		}
		if _, ok := queued[repo.FullName]; ok {
			continue
		}

		queued[repo.FullName] = struct{}{}
		fresh = append(fresh, repo)
	}

	return fresh
}

// Commit adds names to the set and persists it. On a persistence failure
// the additions stay in memory and are written by the next Commit or Flush.
// The first Commit after an absent Load always writes, even with no names.
func (t *Tracker) Commit(ctx context.Context, names []string) error {
	t.mu.Lock()
	if !t.initialized {
		t.dirty = true
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := t.seen[name]; ok {
			continue
		}

		t.seen[name] = struct{}{}
		t.dirty = true
	}
	t.mu.Unlock()

	return t.Flush(ctx)
}

// Flush persists the set if it has unsaved additions.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return nil
	}

	if err := t.store.Save(ctx, t.namesLocked()); err != nil {
		return fmt.Errorf("%w: save seen-set: %w", domain.ErrPersistence, err)
	}
	t.dirty = false
	t.initialized = true

	return nil
}

func (t *Tracker) Contains(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.seen[name]

	return ok
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.seen)
}

func (t *Tracker) Dirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.dirty
}

// Names returns the set sorted.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.namesLocked()
}

func (t *Tracker) namesLocked() []string {
	names := make([]string, 0, len(t.seen))
	for name := range t.seen {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

func FullNames(repos []domain.StarredRepository) []string {
	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		names = append(names, repo.FullName)
	}

	return names
}
