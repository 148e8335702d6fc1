package model

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Quantity bounds: plain decimal notation with at most MaxQuantityIntDigits
// before the point and MaxQuantityScale after it. Exponents are rejected.
const (
	MaxQuantityIntDigits = 15
	MaxQuantityScale     = 9
)

var quantityPattern = regexp.MustCompile(fmt.Sprintf(`^[0-9]{1,%d}(\.[0-9]{1,%d})?$`, MaxQuantityIntDigits, MaxQuantityScale))

// ParseQuantity parses a strictly positive decimal quantity.
func ParseQuantity(s string) (decimal.Decimal, error) {
	if !quantityPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("malformed quantity %q: want plain decimal with at most %d integer and %d fractional digits",
			truncate(s, 32), MaxQuantityIntDigits, MaxQuantityScale)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed quantity %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("quantity must be positive, got %s", d.String())
	}
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Quantities holds one amount per impact type.
// Fields map 1:1 to ImpactType via Unit().
type Quantities struct {
	Kg      decimal.Decimal `json:"kg"`
	Minutes decimal.Decimal `json:"minutes"`
	Units   decimal.Decimal `json:"units"`
}

// NewQuantities builds Quantities from decimal strings.
// Panics on malformed input; intended for constants and tests.
func NewQuantities(kg, minutes, units string) Quantities {
	return Quantities{
		Kg:      decimal.RequireFromString(kg),
		Minutes: decimal.RequireFromString(minutes),
		Units:   decimal.RequireFromString(units),
	}
}

// Get returns the amount for an impact type.
func (q Quantities) Get(t ImpactType) decimal.Decimal {
	switch t {
	case ImpactResidue:
		return q.Kg
	case ImpactEducation:
		return q.Minutes
	case ImpactPackaging:
		return q.Units
	}
	return decimal.Zero
}

// With returns a copy of q with the amount for t replaced.
func (q Quantities) With(t ImpactType, v decimal.Decimal) Quantities {
	switch t {
	case ImpactResidue:
		q.Kg = v
	case ImpactEducation:
		q.Minutes = v
	case ImpactPackaging:
		q.Units = v
	}
	return q
}

// Add returns a copy of q with v added to the amount for t.
func (q Quantities) Add(t ImpactType, v decimal.Decimal) Quantities {
	return q.With(t, q.Get(t).Add(v))
}

// Remaining returns how much of t is still needed to reach target.
// Never negative.
func (q Quantities) Remaining(target Quantities, t ImpactType) decimal.Decimal {
	need := target.Get(t).Sub(q.Get(t))
	if need.IsNegative() {
		return decimal.Zero
	}
	return need
}

// Complete reports whether every progress amount has reached its target.
// A zero target counts as met.
func (q Quantities) Complete(target Quantities) bool {
	for _, t := range ImpactTypes {
		if q.Get(t).LessThan(target.Get(t)) {
			return false
		}
	}
	return true
}

// Percent returns progress toward target for t as a whole percentage,
// truncated. A zero target reports 100.
func (q Quantities) Percent(target Quantities, t ImpactType) int64 {
	tv := target.Get(t)
	if !tv.IsPositive() {
		return 100
	}
	return q.Get(t).Mul(decimal.NewFromInt(100)).Div(tv).Truncate(0).IntPart()
}

// Equal reports whether both sides hold numerically equal amounts.
func (q Quantities) Equal(o Quantities) bool {
	return q.Kg.Equal(o.Kg) && q.Minutes.Equal(o.Minutes) && q.Units.Equal(o.Units)
}

// Strings returns the canonical decimal strings in kg, minutes, units order.
func (q Quantities) Strings() (kg, minutes, units string) {
	return q.Kg.String(), q.Minutes.String(), q.Units.String()
}
