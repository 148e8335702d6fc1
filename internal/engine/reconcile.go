package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// ReconcileResult summarizes one Reconcile run.
type ReconcileResult struct {
	Records []model.ReconciliationRecord `json:"records"`
	Errors  []error                      `json:"-"`
}

// Reconcile allocates available inventory to the active quotas of a
// project. An empty projectID reconciles every project with active quotas.
//
// Quotas are served first-come first-served (purchase_date, number, id).
// For each quota, in one transaction, every impact type below target
// consumes the oldest available inventory (created_at, id) until the
// remaining need is met. One ReconciliationRecord is written per
// (quota, type) pass that consumed anything.
//
// A quota that lost a race with a concurrent writer rolls back alone and
// its ConflictError is returned in the result. A storage failure aborts the
// run with a TransientError. Re-running with no new inventory is a no-op.
func (e *Engine) Reconcile(ctx context.Context, projectID string) (ReconcileResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("cdv.project_id", projectID))

	res := ReconcileResult{Records: []model.ReconciliationRecord{}, Errors: []error{}}

	projects := []string{projectID}
	if projectID == "" {
		ids, err := e.store.ActiveProjectIDs(ctx)
		if err != nil {
			return res, classifyStoreError("list active projects", err)
		}
		projects = ids
	}

	for _, pid := range projects {
		batch, err := e.store.ListQuotaBatch(ctx, store.QuotaFilter{ProjectID: pid, Status: model.QuotaActive})
		if err != nil {
			return res, classifyStoreError("list active quotas", err)
		}
		res.Errors = append(res.Errors, e.unreadableQuotas(batch)...)
		for _, q := range batch.Quotas {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			records, err := e.reconcileQuota(ctx, q.ID)
			if err != nil {
				if IsTransient(err) {
					span.SetStatus(codes.Error, err.Error())
					return res, err
				}
				e.logger.Warn("reconcile quota failed", "quota_id", q.ID, "error", err)
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Records = append(res.Records, records...)
		}
	}

	e.metrics.reconciled.Add(ctx, int64(len(res.Records)))
	e.logger.Info("reconcile complete", "project_id", projectID, "records", len(res.Records), "errors", len(res.Errors))
	return res, nil
}

// reconcileQuota runs the allocation of one quota in its own transaction.
func (e *Engine) reconcileQuota(ctx context.Context, quotaID string) ([]model.ReconciliationRecord, error) {
	var records []model.ReconciliationRecord
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		records = nil
		q, err := tx.LockQuota(ctx, quotaID)
		if err != nil {
			return err
		}
		if q.Status != model.QuotaActive {
			return nil
		}

		progress := q.Progress
		now := e.clock.Now()
		for _, typ := range model.ImpactTypes {
			need := progress.Remaining(q.Targets, typ)
			if !need.IsPositive() {
				continue
			}
			items, total, err := e.allocate(ctx, tx, q.ProjectID, typ, need)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				continue
			}

			rec := model.ReconciliationRecord{
				ID:        e.ids.Generate(),
				QuotaID:   q.ID,
				Type:      typ,
				Quantity:  total,
				Items:     items,
				CreatedAt: now,
			}
			if err := tx.InsertReconciliation(ctx, rec); err != nil {
				return err
			}
			progress = progress.Add(typ, total)
			records = append(records, rec)
		}

		if len(records) == 0 {
			return nil
		}
		return tx.SetQuotaProgress(ctx, q.ID, progress)
	})
	if err != nil {
		return nil, classifyQuotaError(quotaID, "reconcile", err)
	}
	return records, nil
}

// allocate consumes available inventory of one project and type, oldest
// first, until need is met. Under split allocation the last record is
// subdivided so the total equals need exactly.
func (e *Engine) allocate(ctx context.Context, tx *store.Tx, projectID string, typ model.ImpactType, need decimal.Decimal) ([]model.ReconciliationItem, decimal.Decimal, error) {
	available, err := tx.AvailableInventory(ctx, projectID, typ)
	if err != nil {
		return nil, decimal.Zero, err
	}

	items := []model.ReconciliationItem{}
	total := decimal.Zero
	for _, inv := range available {
		if !need.IsPositive() {
			break
		}

		take := inv.Quantity
		if take.GreaterThan(need) && e.policy.Allocation == AllocationSplit {
			take = need
			remainder := model.InventoryRecord{
				ID:             e.ids.Generate(),
				ProjectID:      inv.ProjectID,
				Type:           inv.Type,
				Quantity:       inv.Quantity.Sub(need),
				SourceEventIDs: inv.SourceEventIDs,
				Status:         model.InventoryAvailable,
				SplitFrom:      inv.ID,
				CreatedAt:      inv.CreatedAt,
			}
			if err := tx.AttributeInventory(ctx, inv.ID, take); err != nil {
				return nil, decimal.Zero, err
			}
			if err := tx.InsertInventory(ctx, remainder); err != nil {
				return nil, decimal.Zero, err
			}
		} else if err := tx.AttributeInventory(ctx, inv.ID, take); err != nil {
			return nil, decimal.Zero, err
		}

		items = append(items, model.ReconciliationItem{InventoryID: inv.ID, Quantity: take})
		total = total.Add(take)
		need = need.Sub(take)
	}
	return items, total, nil
}
