package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/testutil"
)

func TestPurchaseQuota_DerivesTargetsAndNumber(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProject(t, f.store, model.Project{
		ID: "proj-edu", Code: "EDU",
		Targets:         model.NewQuantities("1000", "300", "20"),
		TotalQuotaCount: 2, MaturationMonths: 12,
	})

	q, err := f.engine.PurchaseQuota(f.ctx, PurchaseRequest{ProjectID: "proj-edu", InvestorID: "inv-1"})
	require.NoError(t, err)
	assert.Equal(t, "EDU-0001", q.Number)
	assert.Equal(t, "500", q.Targets.Kg.String())
	assert.Equal(t, "150", q.Targets.Minutes.String())
	assert.Equal(t, "10", q.Targets.Units.String())
	assert.Equal(t, testutil.Epoch, q.PurchaseDate)
	assert.Equal(t, testutil.Epoch.AddDate(1, 0, 0), q.MaturationDate)

	stored := f.getQuota(q.ID)
	assert.Equal(t, model.QuotaActive, stored.Status)
	assert.True(t, stored.Progress.Equal(model.Quantities{}))

	q2, err := f.engine.PurchaseQuota(f.ctx, PurchaseRequest{ProjectID: "proj-edu", InvestorID: "inv-2"})
	require.NoError(t, err)
	assert.Equal(t, "EDU-0002", q2.Number)

	_, err = f.engine.PurchaseQuota(f.ctx, PurchaseRequest{ProjectID: "proj-edu", InvestorID: "inv-2"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeSoldOut, CodeOf(err))
}

func TestPurchaseQuota_UnknownReferences(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.PurchaseQuota(f.ctx, PurchaseRequest{ProjectID: "nope", InvestorID: "inv-1"})
	assert.True(t, IsNotFound(err))

	_, err = f.engine.PurchaseQuota(f.ctx, PurchaseRequest{ProjectID: testProject, InvestorID: "nope"})
	assert.True(t, IsNotFound(err))
}
