package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
	"github.com/roach88/cdv/internal/testutil"
)

const testProject = "proj-1"

// fixture wires an engine to a fresh SQLite store with a frozen clock and
// ids that sort in creation order.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Store
	clock  *ManualClock
	engine *Engine
	events int
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	s := testutil.NewStore(t)
	clock := NewManualClock(testutil.Epoch)
	all := append([]EngineOption{
		WithClock(clock),
		WithIDGenerator(testutil.NewSequentialIDGenerator("id")),
		WithPolicy(testPolicy(AllocationSplit, MaturationStrict)),
	}, opts...)
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  s,
		clock:  clock,
		engine: New(s, all...),
	}
	testutil.SeedProject(t, s, model.Project{ID: testProject, Code: "REC"})
	testutil.SeedInvestor(t, s, "inv-1")
	testutil.SeedInvestor(t, s, "inv-2")
	return f
}

func testPolicy(a Allocation, m Maturation) Policy {
	p := DefaultPolicy()
	p.Allocation = a
	p.Maturation = m
	p.PublicBaseURL = "https://cdv.example.org/"
	return p
}

func kg(v string) model.Quantities {
	return model.Quantities{Kg: decimal.RequireFromString(v)}
}

// quota writes an active quota purchased offset after the epoch.
func (f *fixture) quota(id string, targets model.Quantities, offset time.Duration) model.Quota {
	f.t.Helper()
	return testutil.SeedQuota(f.t, f.store, id, testProject, "inv-1", targets, testutil.Epoch.Add(offset))
}

// inventory emits and promotes one event, returning the inventory id.
func (f *fixture) inventory(typ model.ImpactType, qty string, at time.Time) string {
	f.t.Helper()
	f.events++
	evID, created, err := f.engine.EmitImpactEvent(f.ctx, EmitRequest{
		Type:       string(typ),
		Quantity:   qty,
		ProjectID:  testProject,
		OriginRef:  fmt.Sprintf("origin-%d", f.events),
		OccurredAt: at,
	})
	require.NoError(f.t, err)
	require.True(f.t, created)

	res, err := f.engine.Promote(f.ctx, 0)
	require.NoError(f.t, err)
	require.Equal(f.t, 1, res.Promoted)

	recs, err := f.store.ListInventory(f.ctx, store.InventoryFilter{ProjectID: testProject})
	require.NoError(f.t, err)
	for _, r := range recs {
		if len(r.SourceEventIDs) == 1 && r.SourceEventIDs[0] == evID && r.SplitFrom == "" {
			return r.ID
		}
	}
	f.t.Fatalf("inventory for event %s not found", evID)
	return ""
}

// readyQuota seeds a quota, fills it with matching inventory and matures it.
func (f *fixture) readyQuota(id string, targets model.Quantities) model.Quota {
	f.t.Helper()
	q := f.quota(id, targets, 0)
	for _, typ := range model.ImpactTypes {
		if v := targets.Get(typ); v.IsPositive() {
			f.inventory(typ, v.String(), testutil.Epoch)
		}
	}
	_, err := f.engine.Reconcile(f.ctx, testProject)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.TransitionQuota(f.ctx, id, model.QuotaActive, model.QuotaReady))
	return q
}

func (f *fixture) getQuota(id string) model.Quota {
	f.t.Helper()
	q, err := f.store.GetQuota(f.ctx, id)
	require.NoError(f.t, err)
	return q
}

// recordingArchiver remembers archived certificates and can be told to fail.
type recordingArchiver struct {
	err      error
	archived []model.Certificate
}

func (a *recordingArchiver) Archive(_ context.Context, c model.Certificate) error {
	a.archived = append(a.archived, c)
	return a.err
}
