package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cdv/internal/model"
)

// InsertReconciliation appends a reconciliation record and its items.
// The UNIQUE constraint on reconciliation_items.inventory_id rejects any
// attempt to attribute the same inventory record twice.
func (t *Tx) InsertReconciliation(ctx context.Context, rec model.ReconciliationRecord) error {
	_, err := t.exec(ctx, `
		INSERT INTO reconciliations (id, quota_id, type, quantity, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.QuotaID, string(rec.Type), formatDecimal(rec.Quantity), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("write reconciliation: %w", err)
	}
	for i, it := range rec.Items {
		_, err := t.exec(ctx, `
			INSERT INTO reconciliation_items (reconciliation_id, position, inventory_id, quantity)
			VALUES (?, ?, ?, ?)
		`, rec.ID, i, it.InventoryID, formatDecimal(it.Quantity))
		if err != nil {
			return fmt.Errorf("write reconciliation item: %w", err)
		}
	}
	return nil
}

// ListReconciliations returns the reconciliation records of a quota (all
// quotas when quotaID is empty) ordered created_at ASC, id ASC, with items in
// position order.
func (s *Store) ListReconciliations(ctx context.Context, quotaID string) ([]model.ReconciliationRecord, error) {
	return listReconciliations(ctx, s.dialect, s.db, quotaID)
}

// ListReconciliations reads reconciliation records inside the transaction.
func (t *Tx) ListReconciliations(ctx context.Context, quotaID string) ([]model.ReconciliationRecord, error) {
	return listReconciliations(ctx, t.dialect, t.tx, quotaID)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listReconciliations(ctx context.Context, d Dialect, q querier, quotaID string) ([]model.ReconciliationRecord, error) {
	query := `SELECT id, quota_id, type, quantity, created_at FROM reconciliations`
	var args []any
	if quotaID != "" {
		query += ` WHERE quota_id = ?`
		args = append(args, quotaID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := q.QueryContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	records := []model.ReconciliationRecord{}
	index := map[string]int{}
	for rows.Next() {
		var r model.ReconciliationRecord
		var typ, qty, created string
		if err := rows.Scan(&r.ID, &r.QuotaID, &typ, &qty, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		r.Type = model.ImpactType(typ)
		if r.Quantity, err = parseDecimal("quantity", qty); err != nil {
			rows.Close()
			return nil, err
		}
		if r.CreatedAt, err = parseTime("created_at", created); err != nil {
			rows.Close()
			return nil, err
		}
		r.Items = []model.ReconciliationItem{}
		index[r.ID] = len(records)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate reconciliations: %w", err)
	}
	rows.Close()

	itemQuery := `
		SELECT i.reconciliation_id, i.inventory_id, i.quantity
		FROM reconciliation_items i
		JOIN reconciliations r ON r.id = i.reconciliation_id`
	if quotaID != "" {
		itemQuery += ` WHERE r.quota_id = ?`
	}
	itemQuery += ` ORDER BY i.reconciliation_id ASC, i.position ASC`

	itemRows, err := q.QueryContext(ctx, d.Rebind(itemQuery), args...)
	if err != nil {
		return nil, fmt.Errorf("query reconciliation items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var recID, invID, qty string
		if err := itemRows.Scan(&recID, &invID, &qty); err != nil {
			return nil, fmt.Errorf("scan reconciliation item: %w", err)
		}
		amount, err := parseDecimal("item quantity", qty)
		if err != nil {
			return nil, err
		}
		i, ok := index[recID]
		if !ok {
			continue
		}
		records[i].Items = append(records[i].Items, model.ReconciliationItem{InventoryID: invID, Quantity: amount})
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliation items: %w", err)
	}
	return records, nil
}

// ReconciledTotals sums reconciliation quantities per type for a quota.
// Summation happens in Go so decimal TEXT never passes through floating point.
func (s *Store) ReconciledTotals(ctx context.Context, quotaID string) (model.Quantities, error) {
	records, err := s.ListReconciliations(ctx, quotaID)
	if err != nil {
		return model.Quantities{}, err
	}
	var total model.Quantities
	for _, r := range records {
		total = total.Add(r.Type, r.Quantity)
	}
	return total, nil
}
