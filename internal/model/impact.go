package model

import (
	"fmt"
	"strings"
)

// ImpactType identifies the kind of confirmed impact.
type ImpactType string

const (
	// ImpactResidue is recycled material, measured in kilograms.
	ImpactResidue ImpactType = "residue"

	// ImpactEducation is environmental education, measured in minutes.
	ImpactEducation ImpactType = "education"

	// ImpactPackaging is compensated packaging, measured in units.
	ImpactPackaging ImpactType = "packaging"
)

// ImpactTypes lists every impact type in reconciliation order.
// Reconciliation and UIB minting iterate this slice; the order never changes.
var ImpactTypes = []ImpactType{ImpactResidue, ImpactEducation, ImpactPackaging}

// ParseImpactType converts a string into an ImpactType.
// Input is trimmed and lower-cased; anything outside the closed set fails.
func ParseImpactType(s string) (ImpactType, error) {
	t := ImpactType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown impact type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known impact types.
func (t ImpactType) Valid() bool {
	switch t {
	case ImpactResidue, ImpactEducation, ImpactPackaging:
		return true
	}
	return false
}

// Unit returns the measurement unit of the impact type.
func (t ImpactType) Unit() string {
	switch t {
	case ImpactResidue:
		return "kg"
	case ImpactEducation:
		return "minutes"
	case ImpactPackaging:
		return "units"
	}
	return ""
}

func (t ImpactType) String() string { return string(t) }
