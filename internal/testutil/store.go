package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// Epoch is the reference instant test fixtures are built around.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewStore opens a file-backed SQLite store in a temp dir and closes it
// when the test ends.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cdv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedProject writes a project. Missing fields get fixture defaults:
// code P1, 10 quotas, 6 maturation months, a one-year window from Epoch.
func SeedProject(t testing.TB, s *store.Store, p model.Project) model.Project {
	t.Helper()
	if p.Code == "" {
		p.Code = "P1"
	}
	if p.Title == "" {
		p.Title = "Projeto " + p.Code
	}
	if p.TotalQuotaCount == 0 {
		p.TotalQuotaCount = 10
	}
	if p.MaturationMonths == 0 {
		p.MaturationMonths = 6
	}
	if p.StartDate.IsZero() {
		p.StartDate = Epoch
	}
	if p.EndDate.IsZero() {
		p.EndDate = p.StartDate.AddDate(1, 0, 0)
	}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

// SeedInvestor writes an investor with a fixed legal name and tax id.
func SeedInvestor(t testing.TB, s *store.Store, id string) model.Investor {
	t.Helper()
	inv := model.Investor{
		ID:        id,
		LegalName: "Acme Reciclagem Ltda",
		TaxID:     "12.345.678/0001-90",
		Email:     id + "@example.com",
		Status:    "active",
	}
	require.NoError(t, s.CreateInvestor(context.Background(), inv))
	return inv
}

// SeedQuota writes an active quota purchased at purchased and maturing six
// months later.
func SeedQuota(t testing.TB, s *store.Store, id, projectID, investorID string, targets model.Quantities, purchased time.Time) model.Quota {
	t.Helper()
	q := model.Quota{
		ID:             id,
		ProjectID:      projectID,
		InvestorID:     investorID,
		Number:         "Q-" + id,
		PurchaseDate:   purchased,
		MaturationDate: purchased.AddDate(0, 6, 0),
		Targets:        targets,
		Status:         model.QuotaActive,
	}
	require.NoError(t, s.CreateQuota(context.Background(), q))
	return q
}
