package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// MintResult summarizes one MintUIBs run.
type MintResult struct {
	UIBs   []model.UIB `json:"uibs"`
	Errors []error     `json:"-"`
}

// MintUIBs tokenizes reconciled progress into UIBs. An empty projectID
// mints for every project.
//
// Each whole unit of a quota's cumulative attributed quantity of a type
// becomes one UIB, numbered from the global uib counter. UIB k of a
// (quota, type) covers the interval [k, k+1) of that quantity, taken in
// reconciliation order then item order; its origins are the inventory
// records whose items overlap the interval. Fractions carry until the next
// whole unit. Certified quotas are not minted.
func (e *Engine) MintUIBs(ctx context.Context, projectID string) (MintResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.MintUIBs")
	defer span.End()

	res := MintResult{UIBs: []model.UIB{}, Errors: []error{}}
	batch, err := e.store.ListQuotaBatch(ctx, store.QuotaFilter{ProjectID: projectID})
	if err != nil {
		return res, classifyStoreError("list quotas", err)
	}
	res.Errors = append(res.Errors, e.unreadableQuotas(batch)...)

	for _, q := range batch.Quotas {
		if q.Status == model.QuotaCertified {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		minted, err := e.mintQuota(ctx, q.ID)
		if err != nil {
			if IsTransient(err) {
				return res, err
			}
			e.logger.Warn("mint uibs failed", "quota_id", q.ID, "error", err)
			res.Errors = append(res.Errors, err)
			continue
		}
		res.UIBs = append(res.UIBs, minted...)
	}

	e.metrics.uibsMinted.Add(ctx, int64(len(res.UIBs)))
	e.logger.Info("mint uibs complete", "project_id", projectID, "minted", len(res.UIBs), "errors", len(res.Errors))
	return res, nil
}

func (e *Engine) mintQuota(ctx context.Context, quotaID string) ([]model.UIB, error) {
	var minted []model.UIB
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		minted = nil
		q, err := tx.LockQuota(ctx, quotaID)
		if err != nil {
			return err
		}
		if q.Status == model.QuotaCertified {
			return nil
		}
		records, err := tx.ListReconciliations(ctx, quotaID)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		for _, typ := range model.ImpactTypes {
			spans := itemSpans(records, typ)
			if len(spans) == 0 {
				continue
			}
			whole := spans[len(spans)-1].end.Floor().IntPart()
			have, err := tx.MintedUIBCount(ctx, quotaID, typ)
			if err != nil {
				return err
			}
			for k := have; k < whole; k++ {
				seq, err := tx.NextSequence(ctx, store.SequenceUIB)
				if err != nil {
					return err
				}
				u := model.UIB{
					ID:         e.ids.Generate(),
					SequenceNo: seq,
					ProjectID:  q.ProjectID,
					QuotaID:    q.ID,
					Type:       typ,
					OriginIDs:  originsOf(spans, k),
					Status:     model.UIBReserved,
					CreatedAt:  now,
				}
				if err := tx.InsertUIB(ctx, u, k); err != nil {
					return err
				}
				minted = append(minted, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classifyQuotaError(quotaID, "mint uibs", err)
	}
	return minted, nil
}

// itemSpan is the half-open interval [start, end) one reconciliation item
// occupies on a quota's cumulative quantity axis.
type itemSpan struct {
	inventoryID string
	start, end  decimal.Decimal
}

func itemSpans(records []model.ReconciliationRecord, typ model.ImpactType) []itemSpan {
	var spans []itemSpan
	cum := decimal.Zero
	for _, r := range records {
		if r.Type != typ {
			continue
		}
		for _, it := range r.Items {
			next := cum.Add(it.Quantity)
			spans = append(spans, itemSpan{inventoryID: it.InventoryID, start: cum, end: next})
			cum = next
		}
	}
	return spans
}

// originsOf returns the inventory ids overlapping [k, k+1), in axis order.
func originsOf(spans []itemSpan, k int64) []string {
	lo := decimal.NewFromInt(k)
	hi := decimal.NewFromInt(k + 1)
	origins := []string{}
	for _, s := range spans {
		if s.start.LessThan(hi) && s.end.GreaterThan(lo) {
			origins = append(origins, s.inventoryID)
		}
	}
	return origins
}
