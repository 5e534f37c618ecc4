package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one poll cycle. ctx is cancelled on shutdown.
type Job func(ctx context.Context) error

type Scheduler struct {
	ctx      context.Context
	cron     *cron.Cron
	interval time.Duration
	job      Job
	log      *slog.Logger

	entryID cron.EntryID
	initial sync.WaitGroup
}

// New schedules job every interval. Overlapping runs are skipped, so at
// most one cycle is ever in flight.
func New(ctx context.Context, interval time.Duration, job Job, log *slog.Logger) *Scheduler {
	logger := cronLogger{log: log}

	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		ctx:      ctx,
		cron:     c,
		interval: interval,
		job:      job,
		log:      log,
	}
}

func (s *Scheduler) Spec() string {
	return "@every " + s.interval.String()
}

// Start registers the job, runs it once right away and starts the ticker.
func (s *Scheduler) Start() error {
	id, err := s.cron.AddFunc(s.Spec(), s.runCycle)
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	s.entryID = id

	s.cron.Start()

	// The wrapped job carries the chain, so the first run also counts
	// towards SkipIfStillRunning.
	s.initial.Add(1)
	go func() {
		defer s.initial.Done()

		s.cron.Entry(s.entryID).WrappedJob.Run()
	}()

	return nil
}

// Stop halts the ticker and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.initial.Wait()
}

// Next is the time of the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) runCycle() {
	select {
	case <-s.ctx.Done():
		s.log.InfoContext(s.ctx, "Scheduler context is done",
			"error", s.ctx.Err())

		return
	default:
	}

	started := time.Now()

	err := s.job(s.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.DebugContext(s.ctx, "Poll cycle is finished with error",
			"error", err,
			"durationSeconds", time.Since(started).Seconds())

		return
	}

	s.log.DebugContext(s.ctx, "Poll cycle is finished",
		"durationSeconds", time.Since(started).Seconds())
}

// cronLogger routes cron's own logging into slog. Its info messages are
// per-tick noise, so they go to debug.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("Cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("Cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
