// Package store provides durable storage for the CDV engine.
//
// The store holds an append-only impact ledger with:
//   - Impact events: raw facts from collaborators, consumed once
//   - Inventory records: attributable impact, flipped to attributed once
//   - Reconciliations: the audit trail behind every quota progress change
//   - Certificates and UIBs: sequentially numbered, immutable outputs
//
// # Critical Patterns
//
// Single attribution
//   - UNIQUE(reconciliation_items.inventory_id)
//   - Guarded updates (WHERE status = 'available') report ErrStaleState
//
// Gap-free numbering
//   - Counters live in the sequences table and are bumped inside the
//     issuing transaction, so a rollback releases the number
//
// Deterministic query results
//   - Every list query has a total ORDER BY ending in id
//   - Empty results are empty slices, never nil
//
// # Database Configuration
//
// SQLite (default, mattn/go-sqlite3):
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - one writer connection plus a read-only pool for public lookups
//
// PostgreSQL (lib/pq): the same schema; placeholders are rebound to $n and
// transactional reads use SELECT ... FOR UPDATE.
package store
