package model

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	q, err := ParseQuantity("12.500")
	require.NoError(t, err)
	assert.Equal(t, "12.5", q.String())

	for _, bad := range []string{"", "abc", "0", "-3", "1e"} {
		_, err := ParseQuantity(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseQuantity_Bounds(t *testing.T) {
	for _, ok := range []string{"999999999999999", "0.000000001", "123456789012345.123456789"} {
		_, err := ParseQuantity(ok)
		assert.NoError(t, err, "input %q", ok)
	}

	huge := "1" + strings.Repeat("0", 200000)
	for _, bad := range []string{"1e200000", "1E3", "+5", "1.", ".5", "1000000000000000", "0.0000000001", huge} {
		_, err := ParseQuantity(bad)
		require.Error(t, err, "input %.40q", bad)
		assert.Less(t, len(err.Error()), 200, "error must not echo the whole input")
	}
}

func TestQuantities_GetWithAdd(t *testing.T) {
	q := NewQuantities("10", "0", "1")
	q = q.Add(ImpactResidue, decimal.RequireFromString("2.5"))
	q = q.With(ImpactEducation, decimal.NewFromInt(30))

	assert.Equal(t, "12.5", q.Get(ImpactResidue).String())
	assert.Equal(t, "30", q.Get(ImpactEducation).String())
	assert.Equal(t, "1", q.Get(ImpactPackaging).String())
}

func TestQuantities_Remaining(t *testing.T) {
	target := NewQuantities("100", "5", "1")
	progress := NewQuantities("60", "10", "0")

	assert.Equal(t, "40", progress.Remaining(target, ImpactResidue).String())
	assert.True(t, progress.Remaining(target, ImpactEducation).IsZero(), "over target never goes negative")
	assert.Equal(t, "1", progress.Remaining(target, ImpactPackaging).String())
}

func TestQuantities_CompleteAndPercent(t *testing.T) {
	target := NewQuantities("100", "5", "1")

	assert.False(t, NewQuantities("80", "5", "1").Complete(target))
	assert.True(t, NewQuantities("100", "5", "1").Complete(target))
	assert.True(t, NewQuantities("110", "6", "2").Complete(target))

	p := NewQuantities("80", "2.5", "0")
	assert.Equal(t, int64(80), p.Percent(target, ImpactResidue))
	assert.Equal(t, int64(50), p.Percent(target, ImpactEducation))
	assert.Equal(t, int64(0), p.Percent(target, ImpactPackaging))
	assert.Equal(t, int64(100), p.Percent(NewQuantities("0", "0", "0"), ImpactResidue))
}

func TestProject_QuotaTargets(t *testing.T) {
	p := Project{Targets: NewQuantities("25000", "500", "100"), TotalQuotaCount: 100}
	got := p.QuotaTargets()
	assert.True(t, got.Equal(NewQuantities("250", "5", "1")))
}

func TestFormatParseTime_RoundTrip(t *testing.T) {
	in := time.Date(2026, 1, 2, 3, 4, 5, 6, time.FixedZone("BRT", -3*3600))
	s := FormatTime(in)
	assert.Equal(t, "2026-01-02T06:04:05.000000006Z", s)

	out, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}
