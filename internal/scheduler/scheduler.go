// Package scheduler runs the engine batch jobs on fixed intervals.
//
// Every run of a job takes the job's lock first. A run that cannot take the
// lock is skipped: another replica (or an operator-triggered run) is doing
// the same work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/cdv/internal/lock"
)

// ErrUnknownJob is returned by RunOnce for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// JobFunc runs one batch. It returns how many items it processed and how
// many it skipped with per-item errors. A returned error aborts the batch.
type JobFunc func(ctx context.Context) (processed, failed int, err error)

// Job is a named batch with its schedule.
type Job struct {
	Name string

	// Interval between runs. Zero registers the job for RunOnce only.
	Interval time.Duration

	// Timeout bounds a single run. Default: the interval, or one minute.
	Timeout time.Duration

	Run JobFunc
}

// Outcome reports one RunOnce call.
type Outcome struct {
	Job       string `json:"job"`
	Ran       bool   `json:"ran"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// Scheduler owns the registered jobs.
//
// Thread-safety: Register must finish before Run; RunOnce is safe from any
// goroutine.
type Scheduler struct {
	locker lock.Locker
	logger *slog.Logger
	jobs   map[string]Job

	runs   metric.Int64Counter
	items  metric.Int64Counter
	skips  metric.Int64Counter
	failed metric.Int64Counter
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler whose jobs are guarded by locker.
func New(locker lock.Locker, opts ...Option) *Scheduler {
	s := &Scheduler{
		locker: locker,
		logger: slog.Default(),
		jobs:   map[string]Job{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")

	meter := otel.Meter("github.com/roach88/cdv/internal/scheduler")
	s.runs, _ = meter.Int64Counter("cdv.jobs.runs", metric.WithDescription("Job runs that took their lock"))
	s.items, _ = meter.Int64Counter("cdv.jobs.items", metric.WithDescription("Items processed by jobs"))
	s.skips, _ = meter.Int64Counter("cdv.jobs.skipped", metric.WithDescription("Job runs skipped because the lock was held"))
	s.failed, _ = meter.Int64Counter("cdv.jobs.failed", metric.WithDescription("Job runs that aborted with an error"))
	return s
}

// Register adds a job. Names must be unique.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("register job: name and run are required")
	}
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("register job %s: already registered", job.Name)
	}
	s.jobs[job.Name] = job
	return nil
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce runs a job now, unless its lock is held.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (Outcome, error) {
	job, ok := s.jobs[name]
	if !ok {
		return Outcome{Job: name}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) (Outcome, error) {
	out := Outcome{Job: job.Name}
	attrs := metric.WithAttributes(attribute.String("job", job.Name))

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	lease, ok, err := s.locker.TryLock(ctx, "job:"+job.Name, timeout)
	if err != nil {
		return out, fmt.Errorf("lock job %s: %w", job.Name, err)
	}
	if !ok {
		s.skips.Add(ctx, 1, attrs)
		s.logger.Debug("job skipped, lock held", "job", job.Name)
		return out, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("job lock release failed", "job", job.Name, "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out.Ran = true
	s.runs.Add(ctx, 1, attrs)
	out.Processed, out.Failed, err = job.Run(runCtx)
	s.items.Add(ctx, int64(out.Processed), attrs)
	if err != nil {
		s.failed.Add(ctx, 1, attrs)
		s.logger.Error("job failed", "job", job.Name, "processed", out.Processed, "error", err)
		return out, fmt.Errorf("job %s: %w", job.Name, err)
	}
	s.logger.Info("job finished",
		"job", job.Name, "processed", out.Processed, "failed", out.Failed, "duration", time.Since(start))
	return out, nil
}

// Run starts every job with a positive interval and blocks until ctx is
// cancelled. Each job runs once immediately, then on every tick.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range s.Jobs() {
		job := s.jobs[name]
		if job.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runForever(ctx, job)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runForever(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.run(ctx, job); err != nil && ctx.Err() == nil {
			s.logger.Warn("scheduled run failed", "job", job.Name, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
