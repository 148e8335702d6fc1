package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/model"
)

func TestAvailableInventory_OldestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))
	seedInventory(t, s, "inv-b", "50", testNow.Add(time.Minute))
	seedInventory(t, s, "inv-a", "60", testNow)

	err := s.InTx(ctx, func(tx *Tx) error {
		recs, err := tx.AvailableInventory(ctx, "proj-1", model.ImpactResidue)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "inv-a", recs[0].ID)
		assert.Equal(t, "inv-b", recs[1].ID)
		assert.Equal(t, []string{"ev-inv-a"}, recs[0].SourceEventIDs)
		return nil
	})
	require.NoError(t, err)
}

func TestAttributeInventory_Guarded(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))
	seedInventory(t, s, "inv-a", "60", testNow)

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		return tx.AttributeInventory(ctx, "inv-a", decimal.NewFromInt(60))
	}))

	err := s.InTx(ctx, func(tx *Tx) error {
		return tx.AttributeInventory(ctx, "inv-a", decimal.NewFromInt(60))
	})
	assert.True(t, errors.Is(err, ErrStaleState))
}

func TestInsertReconciliation_RejectsDoubleAttribution(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))
	seedInventory(t, s, "inv-a", "60", testNow)

	rec := model.ReconciliationRecord{
		ID: "rec-1", QuotaID: "q-1", Type: model.ImpactResidue, Quantity: decimal.NewFromInt(60),
		Items:     []model.ReconciliationItem{{InventoryID: "inv-a", Quantity: decimal.NewFromInt(60)}},
		CreatedAt: testNow,
	}
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error { return tx.InsertReconciliation(ctx, rec) }))

	rec.ID = "rec-2"
	err := s.InTx(ctx, func(tx *Tx) error { return tx.InsertReconciliation(ctx, rec) })
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	records, err := s.ListReconciliations(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"inv-a"}, records[0].InventoryIDs())

	totals, err := s.ReconciledTotals(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "60", totals.Kg.String())
}

func TestSetQuotaProgress_OnlyWhileActive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		return tx.SetQuotaProgress(ctx, "q-1", model.NewQuantities("40", "0", "0"))
	}))
	q, err := s.GetQuota(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "40", q.Progress.Kg.String())

	require.NoError(t, s.TransitionQuota(ctx, "q-1", model.QuotaActive, model.QuotaReady))
	err = s.InTx(ctx, func(tx *Tx) error {
		return tx.SetQuotaProgress(ctx, "q-1", model.NewQuantities("90", "0", "0"))
	})
	assert.True(t, errors.Is(err, ErrStaleState))
}

func TestTransitionQuota_Guarded(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))

	require.NoError(t, s.TransitionQuota(ctx, "q-1", model.QuotaActive, model.QuotaReady))
	assert.True(t, errors.Is(s.TransitionQuota(ctx, "q-1", model.QuotaActive, model.QuotaReady), ErrStaleState))

	q, err := s.GetQuota(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, model.QuotaReady, q.Status)
}

func TestListDueQuotas(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))

	due, err := s.ListDueQuotas(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, due.Quotas)

	due, err = s.ListDueQuotas(ctx, testNow.AddDate(0, 6, 0))
	require.NoError(t, err)
	require.Len(t, due.Quotas, 1)
	assert.Equal(t, "q-1", due.Quotas[0].ID)
	assert.Empty(t, due.Unreadable)
}

func TestListQuotaBatch_SkipsUnreadableRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))
	require.NoError(t, s.CreateQuota(ctx, model.Quota{
		ID: "q-2", ProjectID: "proj-1", InvestorID: "inv-1", Number: "P1-q-2",
		PurchaseDate: testNow.Add(time.Hour), MaturationDate: testNow.AddDate(0, 6, 0),
		Targets: model.NewQuantities("100", "0", "0"),
	}))
	_, err := s.DB().ExecContext(ctx, `UPDATE quotas SET progress_minutes = 'garbage' WHERE id = 'q-1'`)
	require.NoError(t, err)

	batch, err := s.ListQuotaBatch(ctx, QuotaFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, batch.Quotas, 1)
	assert.Equal(t, "q-2", batch.Quotas[0].ID)
	require.Len(t, batch.Unreadable, 1)
	assert.Equal(t, "q-1", batch.Unreadable[0].QuotaID)
	assert.Contains(t, batch.Unreadable[0].Error(), "progress_minutes")

	due, err := s.ListDueQuotas(ctx, testNow.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.Len(t, due.Quotas, 1)
	require.Len(t, due.Unreadable, 1)

	// The strict listing still refuses to hide the bad row.
	_, err = s.ListQuotas(ctx, QuotaFilter{ProjectID: "proj-1"})
	var unreadable *UnreadableQuotaError
	require.ErrorAs(t, err, &unreadable)
	assert.Equal(t, "q-1", unreadable.QuotaID)
}

func TestNextSequence_GapFreeOnRollback(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var first int64
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		var err error
		first, err = tx.NextSequence(ctx, SequenceCertificate)
		return err
	}))
	assert.Equal(t, int64(1), first)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.NextSequence(ctx, SequenceCertificate); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var next int64
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		var err error
		next, err = tx.NextSequence(ctx, SequenceCertificate)
		return err
	}))
	assert.Equal(t, int64(2), next, "rolled back increment must not burn a number")
}

func TestNextSequence_Unknown(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	err := s.InTx(ctx, func(tx *Tx) error {
		_, err := tx.NextSequence(ctx, "nope")
		return err
	})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func testStoredCertificate() model.Certificate {
	c := model.Certificate{
		ID: "cert-1", Number: "CDV-2026-000001", SequenceNo: 1, QuotaID: "q-1", ProjectID: "proj-1",
		Investor:   model.InvestorSnapshot{ID: "inv-1", LegalName: "Acme Reciclagem Ltda", TaxID: "12.345.678/0001-90"},
		Quantities: model.NewQuantities("100", "0", "0"),
		QRPayload:  "https://cdv.example/cdv/validate/cert-1", PublicLink: "https://cdv.example/cdv/validate/cert-1",
		Valid: true, IssuedBy: "admin", IssuedAt: testNow,
	}
	c.ValidationHash = model.MustCertificateHash(c)
	return c
}

func TestCertificate_RoundTripAndUniqueQuota(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))

	c := testStoredCertificate()
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error { return tx.InsertCertificate(ctx, c) }))

	got, err := s.GetCertificate(ctx, "cert-1")
	require.NoError(t, err)
	assert.Equal(t, c.Number, got.Number)
	assert.True(t, got.Quantities.Equal(c.Quantities))
	assert.True(t, got.IssuedAt.Equal(c.IssuedAt))
	assert.True(t, model.VerifyCertificateHash(got), "stored snapshot must reproduce its hash")

	byQuota, err := s.GetCertificateByQuota(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "cert-1", byQuota.ID)

	dup := c
	dup.ID, dup.Number, dup.SequenceNo = "cert-2", "CDV-2026-000002", 2
	err = s.InTx(ctx, func(tx *Tx) error { return tx.InsertCertificate(ctx, dup) })
	assert.True(t, IsUniqueViolation(err))

	n, err := s.CountCertificates(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRevokeCertificate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error { return tx.InsertCertificate(ctx, testStoredCertificate()) }))

	rev := model.Revocation{CertificateID: "cert-1", Actor: "admin", Reason: "fraud", RevokedAt: testNow}
	require.NoError(t, s.RevokeCertificate(ctx, "rev-1", rev))
	assert.True(t, errors.Is(s.RevokeCertificate(ctx, "rev-2", rev), ErrStaleState))

	rev.CertificateID = "missing"
	assert.True(t, errors.Is(s.RevokeCertificate(ctx, "rev-3", rev), ErrNotFound))

	got, err := s.GetCertificate(ctx, "cert-1")
	require.NoError(t, err)
	assert.False(t, got.Valid)

	revs, err := s.ListRevocations(ctx, "cert-1")
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, "fraud", revs[0].Reason)
}

func TestUIBs_InsertAttributeList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("100", "0", "0"))
	seedInventory(t, s, "inv-a", "60", testNow)

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		n, err := tx.MintedUIBCount(ctx, "q-1", model.ImpactResidue)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		return tx.InsertUIB(ctx, model.UIB{
			ID: "uib-1", SequenceNo: 1, ProjectID: "proj-1", QuotaID: "q-1",
			Type: model.ImpactResidue, OriginIDs: []string{"inv-a"}, CreatedAt: testNow,
		}, n)
	}))

	// Same ordinal twice is rejected.
	err := s.InTx(ctx, func(tx *Tx) error {
		return tx.InsertUIB(ctx, model.UIB{
			ID: "uib-dup", SequenceNo: 2, ProjectID: "proj-1", QuotaID: "q-1",
			Type: model.ImpactResidue, CreatedAt: testNow,
		}, 0)
	})
	assert.True(t, IsUniqueViolation(err))

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error { return tx.InsertCertificate(ctx, testStoredCertificate()) }))
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		reserved, err := tx.ReservedUIBs(ctx, "q-1")
		require.NoError(t, err)
		require.Len(t, reserved, 1)
		return tx.AttributeUIB(ctx, reserved[0].ID, "cert-1")
	}))

	uibs, err := s.ListUIBs(ctx, "q-1", "")
	require.NoError(t, err)
	require.Len(t, uibs, 1)
	assert.Equal(t, model.UIBAttributed, uibs[0].Status)
	assert.Equal(t, []string{"inv-a"}, uibs[0].OriginIDs)

	cert, err := s.GetCertificate(ctx, "cert-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"uib-1"}, cert.UIBIDs)
}

func TestProjectLookups(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "q-1", model.NewQuantities("250", "5", "1"))

	targets, count, err := s.GetProjectTargets(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.True(t, targets.Equal(model.NewQuantities("250", "5", "1")))

	inv, err := s.GetInvestor(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Reciclagem Ltda", inv.LegalName)

	_, _, err = s.GetProjectTargets(ctx, "proj-missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetInvestor(ctx, "inv-missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
