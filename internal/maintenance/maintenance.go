// Package maintenance runs periodic housekeeping jobs against the store:
// message retention, alert dedup pruning, anything else registered.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is a schedulable unit of housekeeping work.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error

	lastRun time.Time
	running bool
}

// Scheduler drives registered jobs from a single tick loop. A job never
// overlaps itself: a tick that finds the previous run still going skips it.
type Scheduler struct {
	tick time.Duration
	mu   sync.Mutex
	jobs map[string]*Job
}

// New creates a Scheduler. tick bounds how stale a due job can get; a minute
// is plenty for retention work.
func New(tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{tick: tick, jobs: make(map[string]*Job)}
}

// Register adds a job. Re-registering a name replaces the job.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	slog.Info("maintenance: job registered", "name", job.Name, "every", job.Every)
}

// Unregister removes a job by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Run blocks until ctx is cancelled, dispatching due jobs on every tick.
// The first tick runs every job once so retention applies soon after start,
// not a full interval later.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.dispatchDue(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.dispatchDue(ctx, now)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.running || now.Sub(job.lastRun) < job.Every {
			continue
		}
		job.running = true
		job.lastRun = now

		go func(j *Job) {
			defer func() {
				s.mu.Lock()
				j.running = false
				s.mu.Unlock()
			}()

			start := time.Now()
			if err := j.Run(ctx); err != nil {
				if ctx.Err() == nil {
					slog.Error("maintenance: job failed", "name", j.Name, "error", err)
				}
				return
			}
			slog.Debug("maintenance: job done", "name", j.Name, "took", time.Since(start).Round(time.Millisecond))
		}(job)
	}
}
