package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the storage and hashing format for timestamps.
// Fixed width so lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp, falling back to RFC 3339.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// InventoryStatus is the attribution state of an inventory record.
type InventoryStatus string

const (
	InventoryAvailable  InventoryStatus = "available"
	InventoryAttributed InventoryStatus = "attributed"
)

// QuotaStatus is the lifecycle state of a quota: active -> ready -> certified.
type QuotaStatus string

const (
	QuotaActive    QuotaStatus = "active"
	QuotaReady     QuotaStatus = "ready"
	QuotaCertified QuotaStatus = "certified"
)

// UIBStatus is the lifecycle state of an impact batch token.
type UIBStatus string

const (
	UIBReserved   UIBStatus = "reserved"
	UIBAttributed UIBStatus = "attributed"
)

// ImpactEvent is an atomic, confirmed impact fact emitted by a collaborator.
// Immutable once written except for the processed flag and quarantine reason.
type ImpactEvent struct {
	ID              string     `json:"id"`
	Type            ImpactType `json:"type"`
	Quantity        string     `json:"quantity"` // raw; validated by the promoter
	Subtype         string     `json:"subtype,omitempty"`
	ProjectID       string     `json:"project_id"`
	OriginRef       string     `json:"origin_ref"`
	OccurredAt      time.Time  `json:"occurred_at"`
	Processed       bool       `json:"processed"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// InventoryRecord is attributable impact scoped to a project.
type InventoryRecord struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	Type           ImpactType      `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	SourceEventIDs []string        `json:"source_event_ids"`
	Status         InventoryStatus `json:"status"`
	SplitFrom      string          `json:"split_from,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Project scopes which inventory may satisfy which quotas.
type Project struct {
	ID               string     `json:"id"`
	Code             string     `json:"code"`
	Title            string     `json:"title"`
	Targets          Quantities `json:"targets"`
	TotalQuotaCount  int64      `json:"total_quota_count"`
	MaturationMonths int        `json:"maturation_months"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
}

// QuotaTargets divides the project targets evenly across its quotas.
func (p Project) QuotaTargets() Quantities {
	if p.TotalQuotaCount <= 0 {
		return p.Targets
	}
	n := decimal.NewFromInt(p.TotalQuotaCount)
	return Quantities{
		Kg:      p.Targets.Kg.Div(n),
		Minutes: p.Targets.Minutes.Div(n),
		Units:   p.Targets.Units.Div(n),
	}
}

// Investor owns zero or more quotas.
type Investor struct {
	ID        string `json:"id"`
	LegalName string `json:"legal_name"`
	TaxID     string `json:"tax_id"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status"`
}

// Quota is an investor's claim against a project's future impact.
type Quota struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	InvestorID     string      `json:"investor_id"`
	Number         string      `json:"number"`
	PurchaseDate   time.Time   `json:"purchase_date"`
	MaturationDate time.Time   `json:"maturation_date"`
	Targets        Quantities  `json:"targets"`
	Progress       Quantities  `json:"progress"`
	Status         QuotaStatus `json:"status"`
}

// ReconciliationItem is one inventory record's contribution to a reconciliation.
type ReconciliationItem struct {
	InventoryID string          `json:"inventory_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// ReconciliationRecord is the append-only audit entry that moves quota progress.
type ReconciliationRecord struct {
	ID        string               `json:"id"`
	QuotaID   string               `json:"quota_id"`
	Type      ImpactType           `json:"type"`
	Quantity  decimal.Decimal      `json:"quantity"`
	Items     []ReconciliationItem `json:"items"`
	CreatedAt time.Time            `json:"created_at"`
}

// InventoryIDs returns the inventory ids consumed by the record, in item order.
func (r ReconciliationRecord) InventoryIDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.InventoryID
	}
	return ids
}

// UIB is a sequentially numbered unit of impact minted from attributed inventory.
type UIB struct {
	ID            string     `json:"id"`
	SequenceNo    int64      `json:"sequence_no"`
	ProjectID     string     `json:"project_id"`
	QuotaID       string     `json:"quota_id"`
	Type          ImpactType `json:"type"`
	OriginIDs     []string   `json:"origin_ids"`
	Status        UIBStatus  `json:"status"`
	CertificateID string     `json:"certificate_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// InvestorSnapshot is the investor identity frozen at issuance.
type InvestorSnapshot struct {
	ID        string `json:"id"`
	LegalName string `json:"legal_name"`
	TaxID     string `json:"tax_id"`
}

// Certificate is the immutable, hash-verifiable proof of realized impact.
// Only Valid may change, and only from true to false.
type Certificate struct {
	ID             string           `json:"id"`
	Number         string           `json:"number"`
	SequenceNo     int64            `json:"sequence_no"`
	QuotaID        string           `json:"quota_id"`
	ProjectID      string           `json:"project_id"`
	UIBIDs         []string         `json:"uib_ids,omitempty"`
	Investor       InvestorSnapshot `json:"investor"`
	Quantities     Quantities       `json:"quantities"`
	ValidationHash string           `json:"validation_hash"`
	QRPayload      string           `json:"qr_payload"`
	PublicLink     string           `json:"public_link"`
	Valid          bool             `json:"valid"`
	IssuedBy       string           `json:"issued_by"`
	IssuedAt       time.Time        `json:"issued_at"`
}

// Revocation records a certificate's transition to invalid.
type Revocation struct {
	CertificateID string    `json:"certificate_id"`
	Actor         string    `json:"actor"`
	Reason        string    `json:"reason"`
	RevokedAt     time.Time `json:"revoked_at"`
}
