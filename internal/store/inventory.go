package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/cdv/internal/model"
)

const inventoryColumns = `id, project_id, type, quantity, status, COALESCE(split_from, ''), created_at`

func scanInventory(row rowScanner) (model.InventoryRecord, error) {
	var r model.InventoryRecord
	var typ, qty, status, created string
	if err := row.Scan(&r.ID, &r.ProjectID, &typ, &qty, &status, &r.SplitFrom, &created); err != nil {
		return r, err
	}
	r.Type = model.ImpactType(typ)
	r.Status = model.InventoryStatus(status)
	var err error
	if r.Quantity, err = parseDecimal("quantity", qty); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime("created_at", created); err != nil {
		return r, err
	}
	return r, nil
}

// InsertInventory writes an inventory record and its source event links.
func (t *Tx) InsertInventory(ctx context.Context, rec model.InventoryRecord) error {
	status := rec.Status
	if status == "" {
		status = model.InventoryAvailable
	}
	var splitFrom any
	if rec.SplitFrom != "" {
		splitFrom = rec.SplitFrom
	}
	_, err := t.exec(ctx, `
		INSERT INTO inventory_records (id, project_id, type, quantity, status, split_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.ProjectID, string(rec.Type), formatDecimal(rec.Quantity),
		string(status), splitFrom, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	for _, eventID := range rec.SourceEventIDs {
		if _, err := t.exec(ctx, `
			INSERT INTO inventory_sources (inventory_id, event_id) VALUES (?, ?)
		`, rec.ID, eventID); err != nil {
			return fmt.Errorf("write inventory source: %w", err)
		}
	}
	return nil
}

// AvailableInventory returns selectable records of one project and type,
// oldest first (created_at ASC, id ASC). On PostgreSQL the rows stay locked
// until the transaction ends.
func (t *Tx) AvailableInventory(ctx context.Context, projectID string, typ model.ImpactType) ([]model.InventoryRecord, error) {
	rows, err := t.query(ctx, `
		SELECT `+inventoryColumns+` FROM inventory_records
		WHERE project_id = ? AND type = ? AND status = 'available'
		ORDER BY created_at ASC, id ASC`+t.dialect.ForUpdate(),
		projectID, string(typ))
	if err != nil {
		return nil, fmt.Errorf("query available inventory: %w", err)
	}
	recs, err := collectInventory(rows)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].SourceEventIDs, err = t.inventorySources(ctx, recs[i].ID); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// AttributeInventory flips an available record to attributed, setting its
// quantity to the consumed amount. Returns ErrStaleState if the record was
// no longer available.
func (t *Tx) AttributeInventory(ctx context.Context, id string, quantity decimal.Decimal) error {
	res, err := t.exec(ctx, `
		UPDATE inventory_records SET status = 'attributed', quantity = ?
		WHERE id = ? AND status = 'available'
	`, formatDecimal(quantity), id)
	if err != nil {
		return fmt.Errorf("attribute inventory: %w", err)
	}
	return expectOne(res, "attribute inventory")
}

func (t *Tx) inventorySources(ctx context.Context, inventoryID string) ([]string, error) {
	rows, err := t.query(ctx, `
		SELECT event_id FROM inventory_sources WHERE inventory_id = ? ORDER BY event_id ASC
	`, inventoryID)
	if err != nil {
		return nil, fmt.Errorf("query inventory sources: %w", err)
	}
	return collectStrings(rows)
}

// InventoryFilter narrows ListInventory. Empty fields match everything.
type InventoryFilter struct {
	ProjectID string
	Type      model.ImpactType
	Status    model.InventoryStatus
}

// ListInventory returns inventory records ordered created_at ASC, id ASC,
// with their source event ids.
func (s *Store) ListInventory(ctx context.Context, f InventoryFilter) ([]model.InventoryRecord, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventory_records WHERE 1 = 1`
	var args []any
	if f.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	recs, err := collectInventory(rows)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		srcRows, err := s.query(ctx, `
			SELECT event_id FROM inventory_sources WHERE inventory_id = ? ORDER BY event_id ASC
		`, recs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("query inventory sources: %w", err)
		}
		if recs[i].SourceEventIDs, err = collectStrings(srcRows); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func collectInventory(rows *sql.Rows) ([]model.InventoryRecord, error) {
	defer rows.Close()
	recs := []model.InventoryRecord{}
	for rows.Next() {
		r, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}
	return recs, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}
