// Package model provides the domain types of the CDV engine.
//
// This package contains type definitions, the certificate hash and the
// public masking rules. All other internal packages import model; model
// imports nothing internal.
//
// Key design constraints:
//   - NO float types for quantities - use decimal.Decimal
//   - ImpactType is a closed set; unknown strings never become a type
//   - Timestamps are UTC and serialized with TimeLayout (fixed width, sortable)
//   - All JSON tags use snake_case
package model
