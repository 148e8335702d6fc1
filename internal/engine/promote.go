package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// PromoteResult summarizes one Promote run.
type PromoteResult struct {
	Promoted int     `json:"promoted"`
	Rejected int     `json:"rejected"`
	Errors   []error `json:"-"`
}

// Promote turns up to batchSize unprocessed impact events into inventory
// records, oldest first (occurred_at, id). A batchSize of zero uses the
// policy default.
//
// Each event is promoted in its own transaction. An invalid event is
// quarantined (processed with a rejection reason) and its ValidationError is
// returned in the result so later batches are not blocked by it. An event
// already taken by a concurrent runner is skipped silently. A storage
// failure aborts the run with a TransientError; the result still reports
// what was done before it.
func (e *Engine) Promote(ctx context.Context, batchSize int) (PromoteResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Promote")
	defer span.End()

	if batchSize <= 0 {
		batchSize = e.policy.PromoteBatchSize
	}
	if batchSize <= 0 {
		batchSize = DefaultPromoteBatchSize
	}

	res := PromoteResult{Errors: []error{}}
	events, err := e.store.ListUnprocessedEvents(ctx, batchSize)
	if err != nil {
		return res, classifyStoreError("list unprocessed events", err)
	}

	projects := map[string]bool{}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, verr, err := e.inventoryFor(ctx, ev, projects)
		if err != nil {
			return res, err
		}
		if verr != nil {
			if err := e.store.RejectEvent(ctx, ev.ID, verr.Error()); err != nil {
				if errors.Is(err, store.ErrStaleState) {
					continue
				}
				return res, classifyStoreError("reject event", err)
			}
			e.logger.Warn("impact event rejected", "event_id", ev.ID, "error", verr)
			res.Rejected++
			res.Errors = append(res.Errors, verr)
			continue
		}

		if err := e.store.PromoteEvent(ctx, ev.ID, rec); err != nil {
			if errors.Is(err, store.ErrStaleState) {
				continue
			}
			return res, classifyStoreError("promote event", err)
		}
		res.Promoted++
	}

	e.metrics.promoted.Add(ctx, int64(res.Promoted))
	e.metrics.rejected.Add(ctx, int64(res.Rejected), metric.WithAttributes(attribute.String("reason", string(ErrCodeInvalidEvent))))
	e.logger.Info("promote complete", "read", len(events), "promoted", res.Promoted, "rejected", res.Rejected)
	return res, nil
}

// inventoryFor validates an event and builds its inventory record.
// Exactly one of verr (the event is invalid) and err (storage failed) is
// set on failure.
func (e *Engine) inventoryFor(ctx context.Context, ev model.ImpactEvent, projects map[string]bool) (model.InventoryRecord, *EngineError, error) {
	typ, err := model.ParseImpactType(string(ev.Type))
	if err != nil {
		return model.InventoryRecord{}, NewValidationError(ev.ID, ErrCodeInvalidEvent, "invalid type", err), nil
	}
	qty, err := model.ParseQuantity(ev.Quantity)
	if err != nil {
		return model.InventoryRecord{}, NewValidationError(ev.ID, ErrCodeInvalidEvent, "invalid quantity", err), nil
	}

	known, seen := projects[ev.ProjectID]
	if !seen {
		_, err := e.store.GetProject(ctx, ev.ProjectID)
		switch {
		case err == nil:
			known = true
		case errors.Is(err, store.ErrNotFound):
			known = false
		default:
			return model.InventoryRecord{}, nil, classifyStoreError("read project", err)
		}
		projects[ev.ProjectID] = known
	}
	if !known {
		return model.InventoryRecord{}, NewValidationError(ev.ID, ErrCodeUnknownProject, "unknown project "+ev.ProjectID, nil), nil
	}

	return model.InventoryRecord{
		ID:             e.ids.Generate(),
		ProjectID:      ev.ProjectID,
		Type:           typ,
		Quantity:       qty,
		SourceEventIDs: []string{ev.ID},
		Status:         model.InventoryAvailable,
		CreatedAt:      ev.OccurredAt,
	}, nil, nil
}
