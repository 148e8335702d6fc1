package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Defaults(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, AllocationSplit, p.Allocation)
	assert.Equal(t, MaturationStrict, p.Maturation)
	assert.Equal(t, "2.5", p.CO2Factor.String())
	assert.NoError(t, p.Validate())
}

func TestPolicy_Validate(t *testing.T) {
	p := DefaultPolicy()
	p.Allocation = "greedy"
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Maturation = "eventually"
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.PromoteBatchSize = -1
	assert.Error(t, p.Validate())
}

func TestPolicy_ValidationURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://cdv.example.org", "https://cdv.example.org/cdv/validate/c-1"},
		{"https://cdv.example.org///", "https://cdv.example.org/cdv/validate/c-1"},
	}
	for _, tt := range tests {
		p := DefaultPolicy()
		p.PublicBaseURL = tt.base
		assert.Equal(t, tt.want, p.ValidationURL("c-1"))
	}
}

func TestFormatCertificateNumber(t *testing.T) {
	assert.Equal(t, "CDV-2026-000042", FormatCertificateNumber(2026, 42))
	assert.Equal(t, "CDV-2027-1234567", FormatCertificateNumber(2027, 1234567))
}
