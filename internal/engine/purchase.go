package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// PurchaseRequest records the sale of one quota to an investor.
type PurchaseRequest struct {
	ProjectID    string
	InvestorID   string
	PurchaseDate time.Time

	// MaturationDate defaults to PurchaseDate plus the project's
	// maturation months.
	MaturationDate time.Time
}

// PurchaseQuota creates an active quota with zero progress.
//
// The quota is numbered <project code>-<n> with n zero-padded to four
// digits, and its targets are the project targets divided evenly across
// the project's total quota count. Payment is handled elsewhere.
func (e *Engine) PurchaseQuota(ctx context.Context, req PurchaseRequest) (model.Quota, error) {
	project, err := e.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Quota{}, NewNotFoundError("project", req.ProjectID, err)
		}
		return model.Quota{}, classifyStoreError("read project", err)
	}
	if _, err := e.store.GetInvestor(ctx, req.InvestorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Quota{}, NewNotFoundError("investor", req.InvestorID, err)
		}
		return model.Quota{}, classifyStoreError("read investor", err)
	}

	sold, err := e.store.CountQuotas(ctx, project.ID)
	if err != nil {
		return model.Quota{}, classifyStoreError("count quotas", err)
	}
	if project.TotalQuotaCount > 0 && sold >= project.TotalQuotaCount {
		return model.Quota{}, &EngineError{
			Kind: KindState, Code: ErrCodeSoldOut,
			Message: fmt.Sprintf("project %s sold all %d quotas", project.ID, project.TotalQuotaCount),
		}
	}

	purchased := req.PurchaseDate
	if purchased.IsZero() {
		purchased = e.clock.Now()
	}
	matures := req.MaturationDate
	if matures.IsZero() {
		matures = purchased.AddDate(0, project.MaturationMonths, 0)
	}

	q := model.Quota{
		ID:             e.ids.Generate(),
		ProjectID:      project.ID,
		InvestorID:     req.InvestorID,
		Number:         fmt.Sprintf("%s-%04d", project.Code, sold+1),
		PurchaseDate:   purchased.UTC(),
		MaturationDate: matures.UTC(),
		Targets:        project.QuotaTargets(),
		Progress:       model.Quantities{},
		Status:         model.QuotaActive,
	}
	if err := e.store.CreateQuota(ctx, q); err != nil {
		if store.IsUniqueViolation(err) {
			return model.Quota{}, NewConflictError(q.ID, "quota number "+q.Number+" taken concurrently", err)
		}
		return model.Quota{}, classifyStoreError("create quota", err)
	}

	e.logger.Info("quota purchased", "quota_id", q.ID, "number", q.Number, "investor_id", q.InvestorID)
	return q, nil
}
