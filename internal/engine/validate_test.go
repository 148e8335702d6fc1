package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/model"
)

func issuedCertificate(t *testing.T, f *fixture) model.Certificate {
	t.Helper()
	f.readyQuota("q-1", model.NewQuantities("250", "5", "1"))
	cert, err := f.engine.Issue(f.ctx, "q-1", "admin")
	require.NoError(t, err)
	return cert
}

func TestValidate_AuthenticCertificate(t *testing.T) {
	f := newFixture(t)
	cert := issuedCertificate(t, f)

	sum, ok := f.engine.Validate(f.ctx, cert.ID)
	assert.True(t, ok)
	assert.Equal(t, ReasonOK, sum.Reason)
	assert.Equal(t, cert.Number, sum.Number)
	assert.Equal(t, "Acme R. L.", sum.InvestorName)
	assert.Equal(t, "**.***.***/**01-90", sum.InvestorTaxID)
	assert.Equal(t, "250", sum.Quantities.Kg.String())
	assert.Equal(t, "625", sum.CO2Kg.String())
	assert.Equal(t, cert.QRPayload, sum.QRPayload)
	assert.Equal(t, cert.IssuedAt, sum.IssuedAt)
}

func TestValidate_UnknownCertificate(t *testing.T) {
	f := newFixture(t)

	sum, ok := f.engine.Validate(f.ctx, "nope")
	assert.False(t, ok)
	assert.Equal(t, ReasonNotFound, sum.Reason)
}

// Scenario D: a snapshot altered after issuance fails validation.
func TestValidate_TamperedSnapshot(t *testing.T) {
	f := newFixture(t)
	cert := issuedCertificate(t, f)

	_, err := f.store.DB().ExecContext(f.ctx, `UPDATE certificates SET qty_kg = '2500' WHERE id = ?`, cert.ID)
	require.NoError(t, err)

	sum, ok := f.engine.Validate(f.ctx, cert.ID)
	assert.False(t, ok)
	assert.Equal(t, ReasonHashMismatch, sum.Reason)
	assert.Equal(t, "2500", sum.Quantities.Kg.String(), "the summary shows what is stored")
}

func TestValidate_TamperedInvestor(t *testing.T) {
	f := newFixture(t)
	cert := issuedCertificate(t, f)

	_, err := f.store.DB().ExecContext(f.ctx, `UPDATE certificates SET investor_id = 'inv-2' WHERE id = ?`, cert.ID)
	require.NoError(t, err)

	_, ok := f.engine.Validate(f.ctx, cert.ID)
	assert.False(t, ok)
}

func TestValidate_Revoked(t *testing.T) {
	f := newFixture(t)
	cert := issuedCertificate(t, f)

	_, err := f.engine.Revoke(f.ctx, cert.ID, "admin", "duplicate delivery")
	require.NoError(t, err)

	sum, ok := f.engine.Validate(f.ctx, cert.ID)
	assert.False(t, ok)
	assert.Equal(t, ReasonRevoked, sum.Reason)
}

func TestValidate_MismatchReportedBeforeRevocation(t *testing.T) {
	f := newFixture(t)
	cert := issuedCertificate(t, f)

	_, err := f.engine.Revoke(f.ctx, cert.ID, "admin", "fraud")
	require.NoError(t, err)
	_, err = f.store.DB().ExecContext(f.ctx, `UPDATE certificates SET qty_units = '9' WHERE id = ?`, cert.ID)
	require.NoError(t, err)

	sum, _ := f.engine.Validate(f.ctx, cert.ID)
	assert.Equal(t, ReasonHashMismatch, sum.Reason)
}

func TestValidate_UnparseableSnapshot(t *testing.T) {
	f := newFixture(t)
	cert := issuedCertificate(t, f)

	_, err := f.store.DB().ExecContext(f.ctx, `UPDATE certificates SET qty_kg = 'lots' WHERE id = ?`, cert.ID)
	require.NoError(t, err)

	sum, ok := f.engine.Validate(f.ctx, cert.ID)
	assert.False(t, ok)
	assert.Equal(t, ReasonHashMismatch, sum.Reason)
}
