// Package scheduler runs the recurring maintenance jobs: incremental
// wiki sync, quality recompute with decay, and the archival/conflict
// sweep. Jobs never overlap themselves; a tick that arrives while the
// previous run is still going is skipped with a warning.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"lorehub/internal/config"
	"lorehub/internal/logging"
)

const jitterFraction = 0.05

// Job is one recurring task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	mu sync.Mutex // non-reentrant guard
}

// Scheduler ticks a set of jobs until its context is canceled.
type Scheduler struct {
	jobs   []*Job
	logger logging.Logger

	wg sync.WaitGroup
}

// New builds an empty scheduler.
func New() *Scheduler {
	return &Scheduler{logger: logging.WithComponent("scheduler")}
}

// Add registers a job. Jobs with a non-positive interval are ignored.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	if interval <= 0 {
		s.logger.Warn("skipping job with non-positive interval", "job", name)
		return
	}
	s.jobs = append(s.jobs, &Job{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per job. It returns immediately; Wait
// blocks until all job loops have observed cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(j *Job) {
			defer s.wg.Done()
			s.loop(ctx, j)
		}(job)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Wait blocks until every job loop and in-flight run has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	timer := time.NewTimer(jitter(job.Interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// Run off the loop so the cadence holds even when a run
			// outlasts the interval; the guard skips the overlap.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runOnce(ctx, job)
			}()
			timer.Reset(jitter(job.Interval))
		}
	}
}

// runOnce executes the job unless a previous run still holds the guard.
func (s *Scheduler) runOnce(ctx context.Context, job *Job) {
	if !job.mu.TryLock() {
		s.logger.Warn("previous run still in progress, skipping tick", "job", job.Name)
		return
	}
	defer job.mu.Unlock()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", job.Name, "duration", time.Since(start).String(), "error", err)
		return
	}
	s.logger.Info("job completed", "job", job.Name, "duration", time.Since(start).String())
}

// jitter spreads ticks ±5% so co-scheduled jobs don't align.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}

// Jobs wires the standard maintenance jobs from configuration.
// Individual jobs can be disabled by zeroing their interval.
type Jobs struct {
	Sync      func(ctx context.Context) error
	Quality   func(ctx context.Context) error
	Lifecycle func(ctx context.Context) error
}

// FromConfig builds a scheduler carrying the standard jobs.
func FromConfig(cfg config.SchedulerConfig, jobs Jobs) *Scheduler {
	s := New()
	if !cfg.Enabled {
		s.logger.Info("scheduler disabled by configuration")
		return s
	}
	if jobs.Sync != nil {
		s.Add("sync", time.Duration(cfg.SyncIntervalMinutes)*time.Minute, jobs.Sync)
	}
	if jobs.Quality != nil {
		s.Add("quality", time.Duration(cfg.QualityIntervalHours)*time.Hour, jobs.Quality)
	}
	if jobs.Lifecycle != nil {
		s.Add("lifecycle", time.Duration(cfg.LifecycleIntervalHours)*time.Hour, jobs.Lifecycle)
	}
	return s
}
