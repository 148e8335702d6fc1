package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
	"github.com/roach88/cdv/internal/testutil"
)

// reconcileWorld promotes one residue record per inventory size, seeds one
// quota per target and reconciles twice.
func reconcileWorld(t *testing.T, allocation Allocation, inventory, targets []int) (*fixture, error) {
	f := newFixture(t, WithPolicy(testPolicy(allocation, MaturationStrict)))
	for i, target := range targets {
		f.quota(fmt.Sprintf("q-%02d", i), kg(fmt.Sprint(target)), time.Duration(i)*time.Minute)
	}
	for i, size := range inventory {
		f.inventory(model.ImpactResidue, fmt.Sprint(size), testutil.Epoch.Add(time.Duration(i)*time.Second))
	}
	if _, err := f.engine.Reconcile(f.ctx, testProject); err != nil {
		return nil, err
	}
	if _, err := f.engine.Reconcile(f.ctx, testProject); err != nil {
		return nil, err
	}
	return f, nil
}

func TestProperty_NoDoubleAttribution(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	for _, allocation := range []Allocation{AllocationSplit, AllocationWhole} {
		allocation := allocation
		properties.Property(string(allocation)+": every inventory id is reconciled at most once", prop.ForAll(
			func(inventory, targets []int) bool {
				f, err := reconcileWorld(t, allocation, inventory, targets)
				if err != nil {
					return false
				}
				records, err := f.store.ListReconciliations(f.ctx, "")
				if err != nil {
					return false
				}
				seen := map[string]bool{}
				for _, r := range records {
					for _, id := range r.InventoryIDs() {
						if seen[id] {
							return false
						}
						seen[id] = true
					}
				}
				attributed, err := f.store.ListInventory(f.ctx, store.InventoryFilter{Status: model.InventoryAttributed})
				if err != nil {
					return false
				}
				return len(attributed) == len(seen)
			},
			gen.SliceOf(gen.IntRange(1, 50)),
			gen.SliceOfN(3, gen.IntRange(1, 60)),
		))
	}

	properties.TestingRun(t)
}

func TestProperty_ProgressMatchesReconciliations(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("progress equals the sum of reconciliations and never exceeds target under split", prop.ForAll(
		func(inventory, targets []int) bool {
			f, err := reconcileWorld(t, AllocationSplit, inventory, targets)
			if err != nil {
				return false
			}
			quotas, err := f.store.ListQuotas(f.ctx, store.QuotaFilter{ProjectID: testProject})
			if err != nil {
				return false
			}

			totalProgress := decimal.Zero
			for _, q := range quotas {
				sum, err := f.store.ReconciledTotals(f.ctx, q.ID)
				if err != nil || !sum.Equal(q.Progress) {
					return false
				}
				if q.Progress.Kg.GreaterThan(q.Targets.Kg) {
					return false
				}
				totalProgress = totalProgress.Add(q.Progress.Kg)
			}

			// Conservation: attributed inventory is exactly what quotas received.
			attributed, err := f.store.ListInventory(f.ctx, store.InventoryFilter{Status: model.InventoryAttributed})
			if err != nil {
				return false
			}
			totalAttributed := decimal.Zero
			for _, r := range attributed {
				totalAttributed = totalAttributed.Add(r.Quantity)
			}
			all, err := f.store.ListInventory(f.ctx, store.InventoryFilter{})
			if err != nil {
				return false
			}
			totalInventory := decimal.Zero
			for _, r := range all {
				totalInventory = totalInventory.Add(r.Quantity)
			}
			supplied := decimal.Zero
			for _, size := range inventory {
				supplied = supplied.Add(decimal.NewFromInt(int64(size)))
			}
			return totalAttributed.Equal(totalProgress) && totalInventory.Equal(supplied)
		},
		gen.SliceOf(gen.IntRange(1, 50)),
		gen.SliceOfN(3, gen.IntRange(1, 60)),
	))

	properties.TestingRun(t)
}
