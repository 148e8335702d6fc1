// Package engine implements the CDV reconciliation and certificate engine.
//
// The engine turns confirmed impact events into investor certificates:
//
//	EmitImpactEvent -> Promote -> Reconcile -> Evaluate -> Issue -> Validate
//
// ARCHITECTURE:
//
// Batch Jobs:
// Promote, Reconcile, Evaluate and MintUIBs are idempotent batch jobs. They
// run on a schedule (see internal/scheduler) under a per-job lock, and any
// of them may be re-run at any time without changing the outcome.
//
// Transaction Per Item:
// Every event is promoted in its own transaction and every quota is
// reconciled, issued or minted in its own transaction. A failure rolls back
// that item only. Per-item failures are collected in the batch result; a
// TransientError aborts the whole run so the next tick retries it.
//
// Guarded Transitions:
// Every status change is an UPDATE guarded by the expected prior status.
// Zero affected rows means another writer got there first and surfaces as a
// ConflictError (or is silently skipped where the work is already done).
//
// CRITICAL PATTERNS:
//
// Deterministic Selection:
// Quotas are served in purchase_date, number, id order. Inventory is
// consumed in created_at, id order. Impact types are visited in the fixed
// order residue, education, packaging.
//
// Exact Arithmetic:
// All quantities are shopspring/decimal values. No floats.
//
// Gap-Free Numbering:
// Certificate and UIB sequence numbers come from counter rows incremented
// inside the issuing transaction, so a rollback releases the number.
package engine
