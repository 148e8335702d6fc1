package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cdv/internal/model"
)

// MintedUIBCount returns how many UIBs exist for a quota and type.
// The next UIB minted gets this value as its ordinal.
func (t *Tx) MintedUIBCount(ctx context.Context, quotaID string, typ model.ImpactType) (int64, error) {
	var n int64
	if err := t.queryRow(ctx, `
		SELECT COUNT(*) FROM uibs WHERE quota_id = ? AND type = ?
	`, quotaID, string(typ)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count uibs: %w", err)
	}
	return n, nil
}

// InsertUIB writes a UIB with its ordinal within (quota, type) and its origins.
func (t *Tx) InsertUIB(ctx context.Context, u model.UIB, ordinal int64) error {
	status := u.Status
	if status == "" {
		status = model.UIBReserved
	}
	_, err := t.exec(ctx, `
		INSERT INTO uibs (id, sequence_no, project_id, quota_id, type, ordinal, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.SequenceNo, u.ProjectID, u.QuotaID, string(u.Type), ordinal, string(status), formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("write uib: %w", err)
	}
	for i, origin := range u.OriginIDs {
		if _, err := t.exec(ctx, `
			INSERT INTO uib_origins (uib_id, position, inventory_id) VALUES (?, ?, ?)
		`, u.ID, i, origin); err != nil {
			return fmt.Errorf("write uib origin: %w", err)
		}
	}
	return nil
}

// ReservedUIBs returns the reserved UIBs of a quota ordered by sequence_no.
func (t *Tx) ReservedUIBs(ctx context.Context, quotaID string) ([]model.UIB, error) {
	return listUIBs(ctx, t.dialect, t.tx, quotaID, model.UIBReserved)
}

// AttributeUIB binds a reserved UIB to a certificate.
// Returns ErrStaleState if the UIB is no longer reserved.
func (t *Tx) AttributeUIB(ctx context.Context, id, certificateID string) error {
	res, err := t.exec(ctx, `
		UPDATE uibs SET status = 'attributed', certificate_id = ?
		WHERE id = ? AND status = 'reserved'
	`, certificateID, id)
	if err != nil {
		return fmt.Errorf("attribute uib: %w", err)
	}
	return expectOne(res, "attribute uib")
}

// ListUIBs returns UIBs of a quota (all quotas when empty), optionally
// filtered by status, ordered by sequence_no ASC.
func (s *Store) ListUIBs(ctx context.Context, quotaID string, status model.UIBStatus) ([]model.UIB, error) {
	return listUIBs(ctx, s.dialect, s.db, quotaID, status)
}

func listUIBs(ctx context.Context, d Dialect, q querier, quotaID string, status model.UIBStatus) ([]model.UIB, error) {
	query := `SELECT id, sequence_no, project_id, quota_id, type, status, COALESCE(certificate_id, ''), created_at
		FROM uibs WHERE 1 = 1`
	var args []any
	if quotaID != "" {
		query += ` AND quota_id = ?`
		args = append(args, quotaID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY sequence_no ASC`

	rows, err := q.QueryContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query uibs: %w", err)
	}
	uibs := []model.UIB{}
	for rows.Next() {
		var u model.UIB
		var typ, st, created string
		if err := rows.Scan(&u.ID, &u.SequenceNo, &u.ProjectID, &u.QuotaID, &typ, &st, &u.CertificateID, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan uib: %w", err)
		}
		u.Type = model.ImpactType(typ)
		u.Status = model.UIBStatus(st)
		if u.CreatedAt, err = parseTime("created_at", created); err != nil {
			rows.Close()
			return nil, err
		}
		uibs = append(uibs, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate uibs: %w", err)
	}
	rows.Close()

	for i := range uibs {
		originRows, err := q.QueryContext(ctx, d.Rebind(`
			SELECT inventory_id FROM uib_origins WHERE uib_id = ? ORDER BY position ASC
		`), uibs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("query uib origins: %w", err)
		}
		if uibs[i].OriginIDs, err = collectStrings(originRows); err != nil {
			return nil, err
		}
	}
	return uibs, nil
}

var _ querier = (*sql.DB)(nil)
var _ querier = (*sql.Tx)(nil)
