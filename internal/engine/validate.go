package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// Reason explains a validation outcome.
type Reason string

const (
	ReasonOK           Reason = "OK"
	ReasonNotFound     Reason = "NOT_FOUND"
	ReasonRevoked      Reason = "REVOKED"
	ReasonHashMismatch Reason = "HASH_MISMATCH"
	ReasonUnavailable  Reason = "UNAVAILABLE"
)

// Summary is the public view of a certificate. Investor identity is masked.
type Summary struct {
	CertificateID string           `json:"certificate_id"`
	Number        string           `json:"number,omitempty"`
	SequenceNo    int64            `json:"sequence_no,omitempty"`
	ProjectID     string           `json:"project_id,omitempty"`
	Valid         bool             `json:"valid"`
	Reason        Reason           `json:"reason"`
	Quantities    model.Quantities `json:"quantities"`
	CO2Kg         decimal.Decimal  `json:"co2_kg"`
	InvestorName  string           `json:"investor_name,omitempty"`
	InvestorTaxID string           `json:"investor_tax_id,omitempty"`
	IssuedAt      time.Time        `json:"issued_at"`
	QRPayload     string           `json:"qr_payload,omitempty"`
	PublicLink    string           `json:"public_link,omitempty"`
}

// Validate recomputes the validation hash of a stored certificate and
// reports whether it is authentic and still valid.
//
// A hash mismatch is reported before revocation: tampered data is the
// stronger signal. Validate never mutates state and never returns an error;
// the reason code carries NOT_FOUND and UNAVAILABLE.
func (e *Engine) Validate(ctx context.Context, certificateID string) (Summary, bool) {
	ctx, span := e.tracer.Start(ctx, "engine.Validate")
	defer span.End()

	sum := Summary{CertificateID: certificateID}
	cert, err := e.store.GetCertificate(ctx, certificateID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		sum.Reason = ReasonNotFound
		return sum, false
	case store.IsTransient(err):
		e.logger.Warn("validate: store unavailable", "certificate_id", certificateID, "error", err)
		sum.Reason = ReasonUnavailable
		return sum, false
	default:
		// Stored fields that no longer parse cannot match their hash.
		e.logger.Warn("validate: unreadable certificate", "certificate_id", certificateID, "error", err)
		sum.Reason = ReasonHashMismatch
		return sum, false
	}

	sum.Number = cert.Number
	sum.SequenceNo = cert.SequenceNo
	sum.ProjectID = cert.ProjectID
	sum.Quantities = cert.Quantities
	sum.CO2Kg = cert.Quantities.Kg.Mul(e.policy.CO2Factor)
	sum.InvestorName = model.MaskName(cert.Investor.LegalName)
	sum.InvestorTaxID = model.MaskTaxID(cert.Investor.TaxID)
	sum.IssuedAt = cert.IssuedAt
	sum.QRPayload = cert.QRPayload
	sum.PublicLink = cert.PublicLink

	switch {
	case !model.VerifyCertificateHash(cert):
		e.logger.Warn("certificate hash mismatch", "certificate_id", certificateID)
		sum.Reason = ReasonHashMismatch
	case !cert.Valid:
		sum.Reason = ReasonRevoked
	default:
		sum.Valid = true
		sum.Reason = ReasonOK
	}
	return sum, sum.Valid
}
