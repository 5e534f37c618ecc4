// Package watcher runs one poll cycle: fetch the starred list, diff it
// against the seen-set, dispatch what is new and commit it.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"stardaemon/internal/domain"
	"stardaemon/internal/tracker"
	"sync"
	"time"
)

const maxBackoff = 30 * time.Minute

type Poller interface {
	Fetch(ctx context.Context) ([]domain.StarredRepository, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, repo domain.StarredRepository) []domain.NotificationResult
	Connectors() []string
}

type Options struct {
	Username         string
	Interval         time.Duration
	NotifyOnFirstRun bool
}

// Status is a point-in-time view of the watcher for the status endpoint.
type Status struct {
	Username            string    `json:"username"`
	Connectors          []string  `json:"connectors"`
	Seen                int       `json:"seen"`
	Baselining          bool      `json:"baselining"`
	LastPoll            time.Time `json:"lastPoll,omitzero"`
	LastOutcome         string    `json:"lastOutcome,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	Notified            int       `json:"notified"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	RetryAt             time.Time `json:"retryAt,omitzero"`
	PendingFlush        bool      `json:"pendingFlush"`
}

const (
	outcomeBaseline    = "baseline"
	outcomeNoChanges   = "no_changes"
	outcomeNotified    = "notified"
	outcomeInterrupted = "interrupted"
	outcomeFailed      = "failed"
)

type Watcher struct {
	poller     Poller
	tracker    *tracker.Tracker
	dispatcher Dispatcher
	opts       Options
	now        func() time.Time
	log        *slog.Logger

	mu       sync.Mutex
	baseline bool
	failures int
	retryAt  time.Time
	status   Status
}

func New(
	poller Poller,
	t *tracker.Tracker,
	dispatcher Dispatcher,
	opts Options,
	log *slog.Logger,
) *Watcher {
	return &Watcher{
		poller:     poller,
		tracker:    t,
		dispatcher: dispatcher,
		opts:       opts,
		now:        time.Now,
		log:        log,
	}
}

// Start loads the seen-set. Without prior state the next successful poll is
// recorded as a baseline and nothing is dispatched, unless NotifyOnFirstRun
// is set.
func (w *Watcher) Start(ctx context.Context) {
	found := w.tracker.Load(ctx)

	w.mu.Lock()
	w.baseline = !found && !w.opts.NotifyOnFirstRun
	baseline := w.baseline
	w.mu.Unlock()

	switch {
	case found:
		w.log.InfoContext(ctx, "Watcher is started",
			"username", w.opts.Username,
			"seen", w.tracker.Len())
	case baseline:
		w.log.InfoContext(ctx, "No prior state so current stars will be recorded without notifying",
			"username", w.opts.Username)
	default:
		w.log.InfoContext(ctx, "No prior state and NOTIFY_ON_FIRST_RUN is set so every current star will be notified",
			"username", w.opts.Username)
	}
}

// Cycle runs one poll. It returns the poll error, if any; recoverable errors
// also push the next attempt out with exponential backoff. Cancelling ctx
// stops the batch between repositories, and the in-flight repository is
// finished and committed first.
func (w *Watcher) Cycle(ctx context.Context) error {
	now := w.now()

	// Ticks jitter around the interval, so a retry due within half an
	// interval runs now instead of slipping a whole tick.
	if retryAt := w.retryTime(); now.Add(w.opts.Interval / 2).Before(retryAt) {
		w.log.DebugContext(ctx, "Skipping poll during backoff",
			"retryAt", retryAt.UTC().Format(time.RFC3339))

		return nil
	}

	// Retries a commit that failed in an earlier cycle.
	if err := w.tracker.Flush(ctx); err != nil {
		w.log.WarnContext(ctx, "Failed to flush seen-set, keeping it in memory",
			"error", err,
			"seen", w.tracker.Len())
	}

	repos, err := w.poller.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.recordFailure(ctx, now, err)

		return err
	}

	w.mu.Lock()
	baseline := w.baseline
	w.mu.Unlock()

	if baseline {
		return w.recordBaseline(ctx, now, repos)
	}

	fresh := w.tracker.Diff(repos)
	if len(fresh) == 0 {
		w.log.DebugContext(ctx, "No new stars",
			"starred", len(repos))
		w.recordSuccess(now, outcomeNoChanges, 0, nil)

		return nil
	}

	w.log.InfoContext(ctx, "Found new starred repositories",
		"count", len(fresh))

	// Oldest first, so timelines read in starring order.
	slices.Reverse(fresh)

	// Dispatch and commit outlive cancellation; each call is bounded by the
	// dispatcher's own timeout.
	workCtx := context.WithoutCancel(ctx)

	var (
		notified   int
		persistErr error
		outcome    = outcomeNotified
	)

	for i, repo := range fresh {
		if ctx.Err() != nil {
			w.log.InfoContext(ctx, "Shutdown requested, leaving remaining stars for the next run",
				"remaining", len(fresh)-i)
			outcome = outcomeInterrupted

			break
		}

		w.dispatcher.Dispatch(workCtx, repo)
		notified++

		if err = w.tracker.Commit(workCtx, []string{repo.FullName}); err != nil {
			persistErr = err
		}
	}

	if persistErr != nil {
		w.log.ErrorContext(ctx, "Failed to persist seen-set, keeping it in memory",
			"error", persistErr,
			"seen", w.tracker.Len())
	}

	w.recordSuccess(now, outcome, notified, persistErr)

	return persistErr
}

// Status returns a snapshot of the watcher state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	status := w.status
	status.Baselining = w.baseline
	status.ConsecutiveFailures = w.failures
	status.RetryAt = w.retryAt
	w.mu.Unlock()

	status.Username = w.opts.Username
	status.Connectors = w.dispatcher.Connectors()
	status.Seen = w.tracker.Len()
	status.PendingFlush = w.tracker.Dirty()

	return status
}

// Flush persists any seen-set additions whose commit failed earlier.
func (w *Watcher) Flush(ctx context.Context) error {
	return w.tracker.Flush(ctx)
}

func (w *Watcher) recordBaseline(ctx context.Context, now time.Time, repos []domain.StarredRepository) error {
	err := w.tracker.Commit(context.WithoutCancel(ctx), tracker.FullNames(repos))
	if err != nil {
		w.log.ErrorContext(ctx, "Failed to persist baseline, keeping it in memory",
			"error", err,
			"count", len(repos))
	} else {
		w.log.InfoContext(ctx, "Baseline is recorded",
			"count", len(repos))
	}

	w.mu.Lock()
	w.baseline = false
	w.mu.Unlock()

	w.recordSuccess(now, outcomeBaseline, 0, err)

	return err
}

func (w *Watcher) recordSuccess(now time.Time, outcome string, notified int, persistErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.failures = 0
	w.retryAt = time.Time{}

	w.status.LastPoll = now
	w.status.LastOutcome = outcome
	w.status.LastError = ""
	if persistErr != nil {
		w.status.LastError = persistErr.Error()
	}
	w.status.Notified += notified
}

func (w *Watcher) recordFailure(ctx context.Context, now time.Time, err error) {
	w.mu.Lock()
	w.failures++
	w.retryAt = nextAttempt(now, w.opts.Interval, w.failures, err)
	failures, retryAt := w.failures, w.retryAt

	w.status.LastPoll = now
	w.status.LastOutcome = outcomeFailed
	w.status.LastError = err.Error()
	w.mu.Unlock()

	if domain.IsRecoverable(err) {
		w.log.WarnContext(ctx, "Failed to fetch starred repositories, will retry",
			"error", err,
			"consecutiveFailures", failures,
			"retryAt", retryAt.UTC().Format(time.RFC3339))

		return
	}

	w.log.ErrorContext(ctx, "Failed to fetch starred repositories",
		"error", err,
		"authentication", errors.Is(err, domain.ErrAuthentication),
		"consecutiveFailures", failures,
		"retryAt", retryAt.UTC().Format(time.RFC3339))
}

func (w *Watcher) retryTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.retryAt
}

// nextAttempt is the earliest time the next poll may run after the given
// number of consecutive failures. The first failure waits one interval, as
// a normal cycle would; a known rate-limit reset wins when it is later.
func nextAttempt(now time.Time, interval time.Duration, failures int, err error) time.Time {
	wait := interval
	for i := 1; i < failures && wait < maxBackoff; i++ {
		wait *= 2
	}
	wait = min(wait, maxBackoff)

	next := now.Add(wait)

	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) && rateErr.Reset.After(next) {
		next = rateErr.Reset
	}

	return next
}
