// Package scheduler synthesizes periodic events from cron expressions. It
// drives the collections sweep, the period close, and the ledger mirror
// refresh; everything downstream is a normal event dispatch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Job is one scheduled unit of work.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context) error

	lastFire time.Time
}

// Scheduler checks registered jobs once a minute and runs the ones that
// are due. Job failures are logged; the schedule keeps going.
type Scheduler struct {
	gron *gronx.Gronx
	log  *slog.Logger
	tick time.Duration
	now  func() time.Time

	mu   sync.Mutex
	jobs []*Job
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		gron: gronx.New(),
		log:  slog.Default(),
		tick: time.Minute,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. The cron expression is validated up front; an empty
// expression disables the job without error.
func (s *Scheduler) Add(name, expr string, run func(ctx context.Context) error) error {
	if expr == "" {
		return nil
	}
	if !s.gron.IsValid(expr) {
		return fmt.Errorf("scheduler: invalid cron %q for job %s", expr, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &Job{Name: name, Expr: expr, Run: run})
	return nil
}

// Start runs the check loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started", "jobs", len(s.jobs), "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runDue(ctx, s.now())
		}
	}
}

// runDue fires every job whose expression is due at the given instant. A
// job fires at most once per minute regardless of tick jitter.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	minute := now.Truncate(time.Minute)
	for _, j := range s.jobs {
		if j.lastFire.Equal(minute) {
			continue
		}
		ok, err := s.gron.IsDue(j.Expr, now)
		if err != nil {
			s.log.Error("cron check failed", "job", j.Name, "error", err)
			continue
		}
		if ok {
			j.lastFire = minute
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.log.Info("job due", "job", j.Name)
		if err := j.Run(ctx); err != nil {
			s.log.Error("job failed", "job", j.Name, "error", err)
		}
	}
}
