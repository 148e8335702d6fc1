package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/testutil"
)

func TestMintUIBs_OneTokenPerWholeUnit(t *testing.T) {
	f := newFixture(t)
	f.quota("q-1", kg("5"), 0)
	a := f.inventory(model.ImpactResidue, "1.5", testutil.Epoch)
	b := f.inventory(model.ImpactResidue, "2", testutil.Epoch.Add(time.Minute))
	_, err := f.engine.Reconcile(f.ctx, testProject)
	require.NoError(t, err)

	res, err := f.engine.MintUIBs(f.ctx, testProject)
	require.NoError(t, err)
	require.Len(t, res.UIBs, 3, "3.5kg attributed mints 3 tokens")

	assert.Equal(t, []string{a}, res.UIBs[0].OriginIDs)
	assert.Equal(t, []string{a, b}, res.UIBs[1].OriginIDs, "[1,2) spans both records")
	assert.Equal(t, []string{b}, res.UIBs[2].OriginIDs)
	for i, u := range res.UIBs {
		assert.Equal(t, int64(i+1), u.SequenceNo)
		assert.Equal(t, model.UIBReserved, u.Status)
	}

	// The half unit carries until more inventory arrives.
	f.inventory(model.ImpactResidue, "0.5", testutil.Epoch.Add(time.Hour))
	_, err = f.engine.Reconcile(f.ctx, testProject)
	require.NoError(t, err)

	res, err = f.engine.MintUIBs(f.ctx, "")
	require.NoError(t, err)
	require.Len(t, res.UIBs, 1)
	assert.Equal(t, int64(4), res.UIBs[0].SequenceNo)
	assert.Len(t, res.UIBs[0].OriginIDs, 2)
}

func TestMintUIBs_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.quota("q-1", kg("3"), 0)
	f.inventory(model.ImpactResidue, "3", testutil.Epoch)
	_, err := f.engine.Reconcile(f.ctx, testProject)
	require.NoError(t, err)

	_, err = f.engine.MintUIBs(f.ctx, testProject)
	require.NoError(t, err)
	res, err := f.engine.MintUIBs(f.ctx, testProject)
	require.NoError(t, err)
	assert.Empty(t, res.UIBs)

	uibs, err := f.store.ListUIBs(f.ctx, "q-1", "")
	require.NoError(t, err)
	assert.Len(t, uibs, 3)
}

func TestIssueFromUIBs(t *testing.T) {
	f := newFixture(t)
	f.readyQuota("q-1", model.NewQuantities("3", "2", "0"))
	minted, err := f.engine.MintUIBs(f.ctx, testProject)
	require.NoError(t, err)
	require.Len(t, minted.UIBs, 5)

	cert, err := f.engine.IssueFromUIBs(f.ctx, "q-1", "investor")
	require.NoError(t, err)
	assert.Equal(t, "3", cert.Quantities.Kg.String())
	assert.Equal(t, "2", cert.Quantities.Minutes.String())
	assert.True(t, cert.Quantities.Units.Equal(decimal.Zero))
	assert.Len(t, cert.UIBIDs, 5)
	assert.True(t, model.VerifyCertificateHash(cert))

	stored, err := f.store.GetCertificate(f.ctx, cert.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, cert.UIBIDs, stored.UIBIDs)

	reserved, err := f.store.ListUIBs(f.ctx, "q-1", model.UIBReserved)
	require.NoError(t, err)
	assert.Empty(t, reserved)

	sum, ok := f.engine.Validate(f.ctx, cert.ID)
	assert.True(t, ok, "reason %s", sum.Reason)
}

func TestIssue_AttributesMintedUIBs(t *testing.T) {
	f := newFixture(t)
	f.readyQuota("q-1", kg("3"))
	minted, err := f.engine.MintUIBs(f.ctx, testProject)
	require.NoError(t, err)
	require.Len(t, minted.UIBs, 3)

	cert, err := f.engine.Issue(f.ctx, "q-1", "investor")
	require.NoError(t, err)
	assert.Equal(t, "3", cert.Quantities.Kg.String())
	require.Len(t, cert.UIBIDs, 3)

	uibs, err := f.store.ListUIBs(f.ctx, "q-1", "")
	require.NoError(t, err)
	require.Len(t, uibs, 3)
	for _, u := range uibs {
		assert.Equal(t, model.UIBAttributed, u.Status, u.ID)
		assert.Equal(t, cert.ID, u.CertificateID, u.ID)
	}

	stored, err := f.store.GetCertificate(f.ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.UIBIDs, stored.UIBIDs)
	assert.True(t, model.VerifyCertificateHash(stored))
}

func TestIssue_WithoutMintedUIBs(t *testing.T) {
	f := newFixture(t)
	f.readyQuota("q-1", kg("3"))

	cert, err := f.engine.Issue(f.ctx, "q-1", "investor")
	require.NoError(t, err)
	assert.Empty(t, cert.UIBIDs)
}

func TestIssueFromUIBs_NotEnoughTokens(t *testing.T) {
	f := newFixture(t)
	f.readyQuota("q-1", kg("3"))

	_, err := f.engine.IssueFromUIBs(f.ctx, "q-1", "investor")
	require.Error(t, err)
	assert.True(t, IsNotReady(err))
	assert.Equal(t, model.QuotaReady, f.getQuota("q-1").Status, "nothing changed")
}

func TestOriginsOf(t *testing.T) {
	spans := itemSpans([]model.ReconciliationRecord{
		{Type: model.ImpactResidue, Items: []model.ReconciliationItem{
			{InventoryID: "a", Quantity: decimal.RequireFromString("0.4")},
			{InventoryID: "b", Quantity: decimal.RequireFromString("0.6")},
		}},
		{Type: model.ImpactEducation, Items: []model.ReconciliationItem{
			{InventoryID: "x", Quantity: decimal.NewFromInt(9)},
		}},
		{Type: model.ImpactResidue, Items: []model.ReconciliationItem{
			{InventoryID: "c", Quantity: decimal.NewFromInt(2)},
		}},
	}, model.ImpactResidue)

	require.Len(t, spans, 3)
	assert.Equal(t, []string{"a", "b"}, originsOf(spans, 0))
	assert.Equal(t, []string{"c"}, originsOf(spans, 1), "b ends exactly at 1")
	assert.Equal(t, []string{"c"}, originsOf(spans, 2))
	assert.Empty(t, originsOf(spans, 3))
}

func TestMintUIBs_UnreadableQuotaDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.readyQuota("q-1", kg("2"))
	f.readyQuota("q-2", kg("3"))
	_, err := f.store.DB().ExecContext(f.ctx, `UPDATE quotas SET target_units = 'x' WHERE id = 'q-1'`)
	require.NoError(t, err)

	res, err := f.engine.MintUIBs(f.ctx, testProject)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.True(t, IsIntegrity(res.Errors[0]))
	assert.Len(t, res.UIBs, 3)
}
