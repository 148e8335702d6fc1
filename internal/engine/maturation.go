package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// EvaluateResult summarizes one Evaluate run.
type EvaluateResult struct {
	Transitioned []string `json:"transitioned"`
	Errors       []error  `json:"-"`
}

// Evaluate moves active quotas whose maturation date has passed to ready.
//
// Under strict maturation a quota must also have reached every target;
// under lenient maturation the date alone decides. Progress is never
// touched. A quota moved by a concurrent evaluator is skipped.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) (EvaluateResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Evaluate")
	defer span.End()

	res := EvaluateResult{Transitioned: []string{}, Errors: []error{}}
	due, err := e.store.ListDueQuotas(ctx, now)
	if err != nil {
		return res, classifyStoreError("list due quotas", err)
	}
	res.Errors = append(res.Errors, e.unreadableQuotas(due)...)

	for _, q := range due.Quotas {
		if e.policy.Maturation == MaturationStrict && !q.Progress.Complete(q.Targets) {
			continue
		}
		err := e.store.TransitionQuota(ctx, q.ID, model.QuotaActive, model.QuotaReady)
		switch {
		case err == nil:
			res.Transitioned = append(res.Transitioned, q.ID)
		case errors.Is(err, store.ErrStaleState):
			continue
		case store.IsTransient(err):
			return res, NewTransientError("transition quota", err)
		default:
			e.logger.Warn("evaluate quota failed", "quota_id", q.ID, "error", err)
			res.Errors = append(res.Errors, classifyQuotaError(q.ID, "evaluate", err))
		}
	}

	e.metrics.matured.Add(ctx, int64(len(res.Transitioned)))
	e.logger.Info("evaluate complete", "due", len(due.Quotas), "transitioned", len(res.Transitioned))
	return res, nil
}
