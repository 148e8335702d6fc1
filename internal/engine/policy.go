package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Allocation selects how the Reconciliation Engine consumes inventory.
type Allocation string

const (
	// AllocationSplit subdivides a record that exceeds the remaining need,
	// so progress lands exactly on the target.
	AllocationSplit Allocation = "split"

	// AllocationWhole consumes whole records and may overshoot the target.
	AllocationWhole Allocation = "whole"
)

// Maturation selects what the Maturation Evaluator requires besides the date.
type Maturation string

const (
	// MaturationStrict also requires every progress ratio to reach 100%.
	MaturationStrict Maturation = "strict"

	// MaturationLenient transitions on the maturation date alone.
	MaturationLenient Maturation = "lenient"
)

// DefaultPromoteBatchSize is the number of events a Promote run reads when
// the caller passes zero.
const DefaultPromoteBatchSize = 500

// Policy holds the tunable business rules of the engine.
type Policy struct {
	Allocation       Allocation
	Maturation       Maturation
	PublicBaseURL    string
	PromoteBatchSize int
	CO2Factor        decimal.Decimal
}

// DefaultPolicy returns split allocation, strict maturation and a CO2
// factor of 2.5 kg per kg of diverted residue.
func DefaultPolicy() Policy {
	return Policy{
		Allocation:       AllocationSplit,
		Maturation:       MaturationStrict,
		PublicBaseURL:    "http://localhost:8080",
		PromoteBatchSize: DefaultPromoteBatchSize,
		CO2Factor:        decimal.RequireFromString("2.5"),
	}
}

// Validate checks the policy enums.
func (p Policy) Validate() error {
	switch p.Allocation {
	case AllocationSplit, AllocationWhole:
	default:
		return fmt.Errorf("invalid allocation %q (expected split or whole)", p.Allocation)
	}
	switch p.Maturation {
	case MaturationStrict, MaturationLenient:
	default:
		return fmt.Errorf("invalid maturation %q (expected strict or lenient)", p.Maturation)
	}
	if p.PromoteBatchSize < 0 {
		return fmt.Errorf("promote batch size must not be negative")
	}
	if p.CO2Factor.IsNegative() {
		return fmt.Errorf("co2 factor must not be negative")
	}
	return nil
}

// ValidationURL returns the public validation link of a certificate.
// The same string is encoded in the certificate QR code.
func (p Policy) ValidationURL(certificateID string) string {
	return strings.TrimRight(p.PublicBaseURL, "/") + "/cdv/validate/" + certificateID
}
