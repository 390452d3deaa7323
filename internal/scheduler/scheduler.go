// Package scheduler runs cron-scheduled maintenance jobs and provides the
// counting semaphore used to cap concurrent work.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultTickInterval is short enough that every cron minute is observed.
const DefaultTickInterval = 30 * time.Second

// Job defines a schedulable unit of work.
type Job struct {
	Name string // Unique job identifier.
	Cron string // 5-field cron expression.
	Run  func(ctx context.Context, now time.Time) error
}

type entry struct {
	job     *Job
	running *Semaphore
	lastRun time.Time // minute of the last dispatch
}

// Scheduler dispatches registered jobs when their cron expression is due.
// A job never overlaps with itself.
type Scheduler struct {
	tick   time.Duration
	gron   *gronx.Gronx
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*entry
	wg   sync.WaitGroup
}

// New creates a Scheduler. A non-positive tick uses DefaultTickInterval.
func New(tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tick:   tick,
		gron:   gronx.New(),
		logger: logger.With("component", "scheduler"),
		jobs:   make(map[string]*entry),
	}
}

// Register adds or replaces a job.
func (s *Scheduler) Register(job *Job) error {
	if job == nil || job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run func")
	}
	if !gronx.IsValid(job.Cron) {
		return fmt.Errorf("scheduler: invalid cron expression %q for job %s", job.Cron, job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &entry{job: job, running: NewSemaphore(1)}
	s.logger.Info("Scheduler job registered", "name", job.Name, "cron", job.Cron)
	return nil
}

// Unregister removes a job by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Next returns the next dispatch time of a registered job after t.
func (s *Scheduler) Next(name string, t time.Time) (time.Time, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("scheduler: unknown job %s", name)
	}
	return gronx.NextTickAfter(e.job.Cron, t, false)
}

// Run starts the tick loop. Blocks until ctx is cancelled, then waits for
// running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tickAt(ctx, t)
		}
	}
}

// tickAt dispatches every job due in the minute containing now, at most
// once per minute.
func (s *Scheduler) tickAt(ctx context.Context, now time.Time) {
	minute := now.Truncate(time.Minute)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if !e.lastRun.Before(minute) {
			continue
		}
		due, err := s.gron.IsDue(e.job.Cron, minute)
		if err != nil {
			s.logger.Warn("Scheduler cron error", "job", e.job.Name, "error", err)
			continue
		}
		if !due {
			continue
		}
		e.lastRun = minute
		s.dispatch(ctx, e, now)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, e *entry, now time.Time) {
	if !e.running.TryAcquire() {
		s.logger.Warn("Scheduler job skipped: previous run still active", "job", e.job.Name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.running.Release()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Scheduler job panicked", "job", e.job.Name, "panic", r)
			}
		}()
		start := time.Now()
		if err := e.job.Run(ctx, now); err != nil {
			s.logger.Warn("Scheduler job failed", "job", e.job.Name, "error", err)
			return
		}
		s.logger.Debug("Scheduler job finished", "job", e.job.Name, "duration", time.Since(start))
	}()
}
