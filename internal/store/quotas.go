package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cdv/internal/model"
)

const quotaColumns = `id, project_id, investor_id, number, purchase_date, maturation_date,
	target_kg, target_minutes, target_units, progress_kg, progress_minutes, progress_units, status`

func scanQuota(row rowScanner) (model.Quota, error) {
	var q model.Quota
	var purchase, maturation string
	var tkg, tmin, tunits, pkg, pmin, punits, status string
	if err := row.Scan(&q.ID, &q.ProjectID, &q.InvestorID, &q.Number, &purchase, &maturation,
		&tkg, &tmin, &tunits, &pkg, &pmin, &punits, &status); err != nil {
		return q, err
	}
	var err error
	if q.PurchaseDate, err = parseTime("purchase_date", purchase); err != nil {
		return q, err
	}
	if q.MaturationDate, err = parseTime("maturation_date", maturation); err != nil {
		return q, err
	}
	if q.Targets, err = parseQuantities("target", tkg, tmin, tunits); err != nil {
		return q, err
	}
	if q.Progress, err = parseQuantities("progress", pkg, pmin, punits); err != nil {
		return q, err
	}
	q.Status = model.QuotaStatus(status)
	return q, nil
}

// CreateQuota inserts a quota with zero progress in status active.
// Progress and status on the argument are ignored.
func (s *Store) CreateQuota(ctx context.Context, q model.Quota) error {
	kg, minutes, units := q.Targets.Strings()
	_, err := s.exec(ctx, `
		INSERT INTO quotas
		(id, project_id, investor_id, number, purchase_date, maturation_date,
		 target_kg, target_minutes, target_units, progress_kg, progress_minutes, progress_units, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '0', '0', '0', 'active')
		ON CONFLICT(id) DO NOTHING
	`,
		q.ID, q.ProjectID, q.InvestorID, q.Number,
		formatTime(q.PurchaseDate), formatTime(q.MaturationDate),
		kg, minutes, units,
	)
	if err != nil {
		return fmt.Errorf("write quota: %w", err)
	}
	return nil
}

// CountQuotas returns the number of quotas sold for a project.
func (s *Store) CountQuotas(ctx context.Context, projectID string) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM quotas WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count quotas: %w", err)
	}
	return n, nil
}

// GetQuota returns a quota by id, or ErrNotFound.
func (s *Store) GetQuota(ctx context.Context, id string) (model.Quota, error) {
	q, err := scanQuota(s.queryRow(ctx, `SELECT `+quotaColumns+` FROM quotas WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return q, fmt.Errorf("quota %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return q, fmt.Errorf("read quota: %w", err)
	}
	return q, nil
}

// QuotaFilter narrows ListQuotas. Empty fields match everything.
type QuotaFilter struct {
	ProjectID  string
	InvestorID string
	Status     model.QuotaStatus
}

// ListQuotas returns quotas in fairness order: purchase_date ASC, number ASC, id ASC.
// Any row that cannot be decoded fails the whole listing.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListQuotas(ctx context.Context, f QuotaFilter) ([]model.Quota, error) {
	query, args := quotaQuery(f)
	batch, err := s.listQuotas(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(batch.Unreadable) > 0 {
		return nil, batch.Unreadable[0]
	}
	return batch.Quotas, nil
}

// ListQuotaBatch is ListQuotas for batch jobs: rows that cannot be decoded
// are returned in Unreadable so the remaining quotas can still be processed.
func (s *Store) ListQuotaBatch(ctx context.Context, f QuotaFilter) (QuotaBatch, error) {
	query, args := quotaQuery(f)
	return s.listQuotas(ctx, query, args...)
}

func quotaQuery(f QuotaFilter) (string, []any) {
	var where []string
	var args []any
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.InvestorID != "" {
		where = append(where, "investor_id = ?")
		args = append(args, f.InvestorID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + quotaColumns + ` FROM quotas`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY purchase_date ASC, number ASC, id ASC`
	return query, args
}

// ListDueQuotas returns active quotas whose maturation date is at or before
// now. Rows that cannot be decoded are reported in the batch, not as an error.
func (s *Store) ListDueQuotas(ctx context.Context, now time.Time) (QuotaBatch, error) {
	return s.listQuotas(ctx, `
		SELECT `+quotaColumns+` FROM quotas
		WHERE status = 'active' AND maturation_date <= ?
		ORDER BY maturation_date ASC, purchase_date ASC, number ASC, id ASC
	`, formatTime(now))
}

// UnreadableQuotaError reports a quota row whose stored fields no longer
// decode.
type UnreadableQuotaError struct {
	QuotaID string
	Err     error
}

func (e *UnreadableQuotaError) Error() string {
	return fmt.Sprintf("scan quota %s: %v", e.QuotaID, e.Err)
}

func (e *UnreadableQuotaError) Unwrap() error {
	return e.Err
}

// QuotaBatch is the result of a batch quota listing: the quotas that decoded
// and one error per row that did not.
type QuotaBatch struct {
	Quotas     []model.Quota
	Unreadable []*UnreadableQuotaError
}

func (s *Store) listQuotas(ctx context.Context, query string, args ...any) (QuotaBatch, error) {
	batch := QuotaBatch{Quotas: []model.Quota{}}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return batch, fmt.Errorf("query quotas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			if q.ID == "" {
				// No id was read, so the row cannot be attributed to a quota.
				return batch, fmt.Errorf("scan quota: %w", err)
			}
			batch.Unreadable = append(batch.Unreadable, &UnreadableQuotaError{QuotaID: q.ID, Err: err})
			continue
		}
		batch.Quotas = append(batch.Quotas, q)
	}
	if err := rows.Err(); err != nil {
		return batch, fmt.Errorf("iterate quotas: %w", err)
	}
	return batch, nil
}

// ActiveProjectIDs returns the projects that have at least one active quota.
func (s *Store) ActiveProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT DISTINCT project_id FROM quotas WHERE status = 'active' ORDER BY project_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active projects: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active projects: %w", err)
	}
	return ids, nil
}

// TransitionQuota moves a quota from one status to another.
// Returns ErrStaleState if the quota is no longer in status from.
func (s *Store) TransitionQuota(ctx context.Context, id string, from, to model.QuotaStatus) error {
	res, err := s.exec(ctx, `
		UPDATE quotas SET status = ? WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("transition quota: %w", err)
	}
	return expectOne(res, "transition quota")
}

// LockQuota reads a quota and, on PostgreSQL, holds its row lock until the
// transaction ends. On SQLite the single writer connection serializes.
func (t *Tx) LockQuota(ctx context.Context, id string) (model.Quota, error) {
	q, err := scanQuota(t.queryRow(ctx, `SELECT `+quotaColumns+` FROM quotas WHERE id = ?`+t.dialect.ForUpdate(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return q, fmt.Errorf("quota %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return q, fmt.Errorf("lock quota: %w", err)
	}
	return q, nil
}

// TransitionQuota moves a quota between statuses inside the transaction.
func (t *Tx) TransitionQuota(ctx context.Context, id string, from, to model.QuotaStatus) error {
	res, err := t.exec(ctx, `
		UPDATE quotas SET status = ? WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("transition quota: %w", err)
	}
	return expectOne(res, "transition quota")
}

// SetQuotaProgress overwrites the progress of an active quota.
// Only reconciliation calls this, alongside the records that justify it.
func (t *Tx) SetQuotaProgress(ctx context.Context, id string, progress model.Quantities) error {
	kg, minutes, units := progress.Strings()
	res, err := t.exec(ctx, `
		UPDATE quotas SET progress_kg = ?, progress_minutes = ?, progress_units = ?
		WHERE id = ? AND status = 'active'
	`, kg, minutes, units, id)
	if err != nil {
		return fmt.Errorf("update quota progress: %w", err)
	}
	return expectOne(res, "update quota progress")
}
