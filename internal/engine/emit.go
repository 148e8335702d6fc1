package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// EmitRequest is a confirmed impact reported by a collaborator.
type EmitRequest struct {
	Type       string
	Quantity   string
	Subtype    string
	ProjectID  string
	OriginRef  string
	OccurredAt time.Time
}

// EmitImpactEvent appends an impact event to the store.
//
// Emission is idempotent on (type, origin_ref, subtype): a retry returns the
// id of the stored event with created=false. The event is stored unprocessed;
// the Promoter turns it into inventory on its next run.
//
// Returns a ValidationError for a malformed request. Whether the project
// exists is checked by the Promoter, not here.
func (e *Engine) EmitImpactEvent(ctx context.Context, req EmitRequest) (id string, created bool, err error) {
	typ, err := model.ParseImpactType(req.Type)
	if err != nil {
		return "", false, NewValidationError("", ErrCodeInvalidEvent, "invalid type", err)
	}
	qty, err := model.ParseQuantity(req.Quantity)
	if err != nil {
		return "", false, NewValidationError("", ErrCodeInvalidEvent, "invalid quantity", err)
	}
	originRef := strings.TrimSpace(req.OriginRef)
	if originRef == "" {
		return "", false, NewValidationError("", ErrCodeInvalidEvent, "origin_ref is required", nil)
	}
	projectID := strings.TrimSpace(req.ProjectID)
	if projectID == "" {
		return "", false, NewValidationError("", ErrCodeInvalidEvent, "project_id is required", nil)
	}
	if req.OccurredAt.IsZero() {
		return "", false, NewValidationError("", ErrCodeInvalidEvent, "occurred_at is required", nil)
	}

	ev := model.ImpactEvent{
		ID:         e.ids.Generate(),
		Type:       typ,
		Quantity:   qty.String(),
		Subtype:    strings.TrimSpace(req.Subtype),
		ProjectID:  projectID,
		OriginRef:  originRef,
		OccurredAt: req.OccurredAt.UTC(),
		CreatedAt:  e.clock.Now(),
	}
	id, created, err = e.store.InsertImpactEvent(ctx, ev)
	if err != nil {
		return "", false, classifyStoreError("emit impact event", err)
	}
	if created {
		e.logger.Debug("impact event emitted", "event_id", id, "type", typ, "quantity", ev.Quantity, "origin_ref", originRef)
	}
	return id, created, nil
}

// classifyStoreError maps a failure outside a per-quota transaction.
func classifyStoreError(op string, err error) error {
	if store.IsTransient(err) {
		return NewTransientError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
