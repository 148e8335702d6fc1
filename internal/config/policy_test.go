package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/engine"
)

func TestCompilePolicy_EmptyYieldsDefaults(t *testing.T) {
	p, err := CompilePolicy([]byte(""), "policy.cue")
	require.NoError(t, err)

	want := DefaultPolicy()
	assert.Equal(t, want.Engine.Allocation, p.Engine.Allocation)
	assert.Equal(t, want.Engine.Maturation, p.Engine.Maturation)
	assert.Equal(t, want.Engine.PublicBaseURL, p.Engine.PublicBaseURL)
	assert.Equal(t, want.Engine.PromoteBatchSize, p.Engine.PromoteBatchSize)
	assert.True(t, want.Engine.CO2Factor.Equal(p.Engine.CO2Factor), "co2 factor = %s", p.Engine.CO2Factor)
	assert.Equal(t, want.Intervals, p.Intervals)
}

func TestCompilePolicy_Overrides(t *testing.T) {
	src := `
allocation:         "whole"
maturation:         "lenient"
public_base_url:    "https://cdv.example.org"
promote_batch_size: 50
co2_factor:         2.75
intervals: {
	promote:   "30s"
	mint_uibs: "0s"
}
`
	p, err := CompilePolicy([]byte(src), "policy.cue")
	require.NoError(t, err)

	assert.Equal(t, engine.AllocationWhole, p.Engine.Allocation)
	assert.Equal(t, engine.MaturationLenient, p.Engine.Maturation)
	assert.Equal(t, "https://cdv.example.org", p.Engine.PublicBaseURL)
	assert.Equal(t, 50, p.Engine.PromoteBatchSize)
	assert.Equal(t, "2.75", p.Engine.CO2Factor.String())
	assert.Equal(t, 30*time.Second, p.Intervals.Promote)
	assert.Equal(t, 5*time.Minute, p.Intervals.Reconcile)
	assert.Equal(t, time.Hour, p.Intervals.Evaluate)
	assert.Equal(t, time.Duration(0), p.Intervals.MintUIBs)
}

func TestCompilePolicy_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown allocation", `allocation: "greedy"`},
		{"unknown field", `allocaton: "whole"`},
		{"zero batch", `promote_batch_size: 0`},
		{"negative factor", `co2_factor: -1`},
		{"relative base url", `public_base_url: "cdv.example.org"`},
		{"bad duration", `intervals: promote: "soon"`},
		{"negative duration", `intervals: promote: "-1m"`},
		{"syntax", `allocation: "split`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompilePolicy([]byte(tt.src), "policy.cue")
			require.Error(t, err)
		})
	}
}

func TestCompilePolicy_ErrorCarriesPosition(t *testing.T) {
	_, err := CompilePolicy([]byte("maturation: \"lenient\"\nallocation: \"greedy\"\n"), "policy.cue")
	require.Error(t, err)

	var perr *PolicyError
	require.True(t, errors.As(err, &perr), "got %T: %v", err, err)
	assert.Contains(t, perr.Error(), "allocation")
	if perr.Pos.IsValid() {
		assert.Contains(t, perr.Error(), "policy.cue:")
	}
}

func TestLoadPolicy(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		p, err := LoadPolicy("")
		require.NoError(t, err)
		assert.Equal(t, engine.AllocationSplit, p.Engine.Allocation)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.cue")
		require.NoError(t, os.WriteFile(path, []byte(`maturation: "lenient"`), 0o644))

		p, err := LoadPolicy(path)
		require.NoError(t, err)
		assert.Equal(t, engine.MaturationLenient, p.Engine.Maturation)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.cue"))
		assert.Error(t, err)
	})
}

func TestPolicyError_Format(t *testing.T) {
	err := &PolicyError{Field: "allocation", Message: "bad value"}
	assert.Equal(t, "allocation: bad value", err.Error())
}
