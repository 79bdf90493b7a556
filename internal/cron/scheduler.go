package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/squidbot/squidbot/internal/store"
	"github.com/squidbot/squidbot/pkg/models"
)

// Dispatch runs one due job. The scheduler invokes it on its own
// goroutine and never waits for it on the tick path.
type Dispatch func(ctx context.Context, job models.CronJob)

// Scheduler ticks once per second, reloads the job list from the
// store, and dispatches jobs that are due. Every failure inside a tick
// is suppressed so one broken job never stalls the loop.
type Scheduler struct {
	store    *store.Store
	dispatch Dispatch
	logger   *slog.Logger
	now      func() time.Time
	tick     time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "cron")
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the tick interval for tests.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tick = interval
		}
	}
}

// NewScheduler creates a scheduler over the store's job list.
func NewScheduler(st *store.Store, dispatch Dispatch, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		dispatch: dispatch,
		logger:   slog.Default().With("component", "cron"),
		now:      time.Now,
		tick:     time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop and returns immediately. The loop runs
// until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the tick loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single tick immediately and reports how many jobs
// fired. Primarily for tests.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

// runDue reloads jobs, marks due ones as fired, persists the list, and
// dispatches each due job on a fresh goroutine.
func (s *Scheduler) runDue(ctx context.Context) int {
	jobs, err := s.store.LoadCronJobs(ctx)
	if err != nil {
		s.logger.Warn("failed to load cron jobs", "error", err)
		return 0
	}

	now := s.now()
	var due []models.CronJob
	for i := range jobs {
		job := &jobs[i]
		if !job.Enabled {
			continue
		}
		sched, err := Parse(job.Schedule)
		if err != nil {
			s.logger.Warn("cron job has invalid schedule", "id", job.ID, "schedule", job.Schedule, "error", err)
			continue
		}
		if !sched.Due(now, job.LastRun, job.Timezone) {
			continue
		}
		fired := now
		job.LastRun = &fired
		due = append(due, *job)
	}
	if len(due) == 0 {
		return 0
	}

	// last_run is persisted before dispatch so a crash mid-dispatch
	// cannot double-fire the job on restart.
	if err := s.store.SaveCronJobs(ctx, jobs); err != nil {
		s.logger.Warn("failed to persist cron job state", "error", err)
	}

	for _, job := range due {
		s.logger.Info("cron job due", "id", job.ID, "name", job.Name)
		go s.dispatch(ctx, job)
	}
	return len(due)
}
