package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cdv/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedProject writes a project, an investor and one quota with the given targets.
func seedProject(t *testing.T, s *Store, quotaID string, targets model.Quantities) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateProject(ctx, model.Project{
		ID:              "proj-1",
		Code:            "P1",
		Title:           "Reciclar",
		Targets:         targets,
		TotalQuotaCount: 1,
		StartDate:       testNow,
		EndDate:         testNow.AddDate(1, 0, 0),
	}); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	if err := s.CreateInvestor(ctx, model.Investor{ID: "inv-1", LegalName: "Acme Reciclagem Ltda", TaxID: "12.345.678/0001-90"}); err != nil {
		t.Fatalf("CreateInvestor() failed: %v", err)
	}
	if err := s.CreateQuota(ctx, model.Quota{
		ID:             quotaID,
		ProjectID:      "proj-1",
		InvestorID:     "inv-1",
		Number:         "P1-" + quotaID,
		PurchaseDate:   testNow,
		MaturationDate: testNow.AddDate(0, 6, 0),
		Targets:        targets,
	}); err != nil {
		t.Fatalf("CreateQuota() failed: %v", err)
	}
}

// seedInventory writes an impact event and promotes it into an inventory record.
func seedInventory(t *testing.T, s *Store, id, qty string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	evID := "ev-" + id
	if _, _, err := s.InsertImpactEvent(ctx, model.ImpactEvent{
		ID: evID, Type: model.ImpactResidue, Quantity: qty, ProjectID: "proj-1",
		OriginRef: "delivery-" + id, OccurredAt: at, CreatedAt: at,
	}); err != nil {
		t.Fatalf("InsertImpactEvent() failed: %v", err)
	}
	if err := s.PromoteEvent(ctx, evID, model.InventoryRecord{
		ID: id, ProjectID: "proj-1", Type: model.ImpactResidue,
		Quantity: decimal.RequireFromString(qty), SourceEventIDs: []string{evID},
		Status: model.InventoryAvailable, CreatedAt: at,
	}); err != nil {
		t.Fatalf("PromoteEvent() failed: %v", err)
	}
}
