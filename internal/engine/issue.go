package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// Issue creates the certificate of a ready quota from its reconciled
// progress.
//
// Everything happens in one transaction: lock the quota, check its status,
// take the next certificate number, snapshot the investor and quantities,
// compute the validation hash, insert the certificate, attribute any UIBs
// already minted for the quota to it and move the quota to certified. At
// most one certificate can ever exist per quota.
//
// Errors:
//   - NOT_FOUND: the quota does not exist
//   - ALREADY_CERTIFIED: the quota has a certificate (including a lost race)
//   - NOT_READY: the quota is still active
//   - CONFLICT: another constraint race; safe to retry
//   - STORAGE_UNAVAILABLE: transient storage failure
func (e *Engine) Issue(ctx context.Context, quotaID, actor string) (model.Certificate, error) {
	return e.issue(ctx, quotaID, actor, false)
}

// IssueFromUIBs creates the certificate of a ready quota from its reserved
// UIBs. The quantities snapshot is the count of reserved UIBs per type, and
// each type needs at least as many UIBs as the whole part of its target.
// The consumed UIBs are attributed to the certificate. Numbering, hashing
// and validation are the same as Issue.
func (e *Engine) IssueFromUIBs(ctx context.Context, quotaID, actor string) (model.Certificate, error) {
	return e.issue(ctx, quotaID, actor, true)
}

func (e *Engine) issue(ctx context.Context, quotaID, actor string, fromUIBs bool) (model.Certificate, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Issue")
	defer span.End()
	span.SetAttributes(attribute.String("cdv.quota_id", quotaID), attribute.Bool("cdv.from_uibs", fromUIBs))

	var cert model.Certificate
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		q, err := tx.LockQuota(ctx, quotaID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NewNotFoundError("quota", quotaID, err)
			}
			return err
		}
		switch q.Status {
		case model.QuotaCertified:
			return NewAlreadyCertifiedError(quotaID)
		case model.QuotaReady:
		default:
			return NewNotReadyError(quotaID, fmt.Sprintf("quota is %s", q.Status))
		}

		inv, err := tx.GetInvestor(ctx, q.InvestorID)
		if err != nil {
			return err
		}

		// Both paths consume the quota's reserved UIBs; only the UIB path
		// derives the quantities from them.
		uibs, err := tx.ReservedUIBs(ctx, quotaID)
		if err != nil {
			return err
		}
		quantities := q.Progress
		if fromUIBs {
			quantities, err = uibQuantities(quotaID, q.Targets, uibs)
			if err != nil {
				return err
			}
		}

		seq, err := tx.NextSequence(ctx, store.SequenceCertificate)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		id := e.ids.Generate()
		link := e.policy.ValidationURL(id)
		cert = model.Certificate{
			ID:         id,
			Number:     FormatCertificateNumber(now.Year(), seq),
			SequenceNo: seq,
			QuotaID:    q.ID,
			ProjectID:  q.ProjectID,
			Investor: model.InvestorSnapshot{
				ID:        inv.ID,
				LegalName: inv.LegalName,
				TaxID:     inv.TaxID,
			},
			Quantities: quantities,
			QRPayload:  link,
			PublicLink: link,
			Valid:      true,
			IssuedBy:   actor,
			IssuedAt:   now,
		}
		cert.ValidationHash, err = model.CertificateHash(cert)
		if err != nil {
			return err
		}
		if err := tx.InsertCertificate(ctx, cert); err != nil {
			return err
		}
		for _, u := range uibs {
			if err := tx.AttributeUIB(ctx, u.ID, cert.ID); err != nil {
				return err
			}
			cert.UIBIDs = append(cert.UIBIDs, u.ID)
		}
		return tx.TransitionQuota(ctx, q.ID, model.QuotaReady, model.QuotaCertified)
	})
	if err != nil {
		err = e.classifyIssueError(ctx, quotaID, err)
		span.SetStatus(codes.Error, err.Error())
		return model.Certificate{}, err
	}

	mode := "quota"
	if fromUIBs {
		mode = "uib"
	}
	e.metrics.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	e.logger.Info("certificate issued",
		"certificate_id", cert.ID, "number", cert.Number, "quota_id", quotaID, "actor", actor, "mode", mode)

	e.archive(ctx, cert)
	return cert, nil
}

// classifyIssueError maps a failed issuing transaction onto the taxonomy.
// A unique violation is ALREADY_CERTIFIED when a certificate for the quota
// exists afterwards, and CONFLICT otherwise.
func (e *Engine) classifyIssueError(ctx context.Context, quotaID string, err error) error {
	if store.IsUniqueViolation(err) {
		n, cerr := e.store.CountCertificates(ctx, quotaID)
		if cerr == nil && n > 0 {
			return NewAlreadyCertifiedError(quotaID)
		}
	}
	return classifyQuotaError(quotaID, "issue certificate", err)
}

// uibQuantities counts reserved UIBs per type and checks each count covers
// the whole part of the quota target.
func uibQuantities(quotaID string, targets model.Quantities, uibs []model.UIB) (model.Quantities, error) {
	counts := map[model.ImpactType]int64{}
	for _, u := range uibs {
		counts[u.Type]++
	}
	var q model.Quantities
	for _, typ := range model.ImpactTypes {
		have := decimal.NewFromInt(counts[typ])
		want := targets.Get(typ).Floor()
		if have.LessThan(want) {
			return model.Quantities{}, NewNotReadyError(quotaID,
				fmt.Sprintf("%s UIBs: have %s, need %s", typ, have, want))
		}
		q = q.With(typ, have)
	}
	return q, nil
}

// archive uploads the certificate after commit. Failures are logged and
// counted; issuance has already succeeded.
func (e *Engine) archive(ctx context.Context, cert model.Certificate) {
	if e.archiver == nil {
		return
	}
	if err := e.archiver.Archive(ctx, cert); err != nil {
		e.metrics.archiveFailure.Add(ctx, 1)
		e.logger.Error("certificate archive failed", "certificate_id", cert.ID, "error", err)
	}
}
