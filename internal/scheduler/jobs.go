package scheduler

import (
	"context"
	"time"

	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/lock"
)

// Job names.
const (
	JobPromote   = "promote"
	JobReconcile = "reconcile"
	JobEvaluate  = "evaluate"
	JobMintUIBs  = "mint-uibs"
)

// Intervals sets how often each engine job runs. Zero disables the
// schedule but keeps the job available to RunOnce.
type Intervals struct {
	Promote   time.Duration
	Reconcile time.Duration
	Evaluate  time.Duration
	MintUIBs  time.Duration
}

// DefaultIntervals returns the production schedule.
func DefaultIntervals() Intervals {
	return Intervals{
		Promote:   time.Minute,
		Reconcile: 5 * time.Minute,
		Evaluate:  time.Hour,
		MintUIBs:  15 * time.Minute,
	}
}

// EngineJobs returns the four engine batch jobs.
func EngineJobs(e *engine.Engine, iv Intervals) []Job {
	return []Job{
		{
			Name:     JobPromote,
			Interval: iv.Promote,
			Run: func(ctx context.Context) (int, int, error) {
				res, err := e.Promote(ctx, 0)
				return res.Promoted, res.Rejected, err
			},
		},
		{
			Name:     JobReconcile,
			Interval: iv.Reconcile,
			Run: func(ctx context.Context) (int, int, error) {
				res, err := e.Reconcile(ctx, "")
				return len(res.Records), len(res.Errors), err
			},
		},
		{
			Name:     JobEvaluate,
			Interval: iv.Evaluate,
			Run: func(ctx context.Context) (int, int, error) {
				res, err := e.Evaluate(ctx, e.Now())
				return len(res.Transitioned), len(res.Errors), err
			},
		},
		{
			Name:     JobMintUIBs,
			Interval: iv.MintUIBs,
			Run: func(ctx context.Context) (int, int, error) {
				res, err := e.MintUIBs(ctx, "")
				return len(res.UIBs), len(res.Errors), err
			},
		},
	}
}

// NewForEngine creates a scheduler with the engine jobs registered.
func NewForEngine(e *engine.Engine, locker lock.Locker, iv Intervals, opts ...Option) *Scheduler {
	s := New(locker, opts...)
	for _, job := range EngineJobs(e, iv) {
		// Names are constants and unique.
		_ = s.Register(job)
	}
	return s
}
