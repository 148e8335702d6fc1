package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cdv/internal/model"
)

// CreateProject inserts a project.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) CreateProject(ctx context.Context, p model.Project) error {
	kg, minutes, units := p.Targets.Strings()
	_, err := s.exec(ctx, `
		INSERT INTO projects
		(id, code, title, target_kg, target_minutes, target_units, total_quota_count, maturation_months, start_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		p.ID, p.Code, p.Title, kg, minutes, units,
		p.TotalQuotaCount, p.MaturationMonths,
		formatTime(p.StartDate), formatTime(p.EndDate),
	)
	if err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	return nil
}

const projectColumns = `id, code, title, target_kg, target_minutes, target_units, total_quota_count, maturation_months, start_date, end_date`

func scanProject(row rowScanner) (model.Project, error) {
	var p model.Project
	var kg, minutes, units, start, end string
	if err := row.Scan(&p.ID, &p.Code, &p.Title, &kg, &minutes, &units,
		&p.TotalQuotaCount, &p.MaturationMonths, &start, &end); err != nil {
		return p, err
	}
	var err error
	if p.Targets, err = parseQuantities("target", kg, minutes, units); err != nil {
		return p, err
	}
	if p.StartDate, err = parseTime("start_date", start); err != nil {
		return p, err
	}
	if p.EndDate, err = parseTime("end_date", end); err != nil {
		return p, err
	}
	return p, nil
}

// GetProject returns a project by id, or ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id string) (model.Project, error) {
	p, err := scanProject(s.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("read project: %w", err)
	}
	return p, nil
}

// GetProjectTargets returns the whole-project targets and quota count.
func (s *Store) GetProjectTargets(ctx context.Context, id string) (model.Quantities, int64, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return model.Quantities{}, 0, err
	}
	return p.Targets, p.TotalQuotaCount, nil
}

// ListProjects returns all projects ordered by id.
func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// CreateInvestor inserts an investor.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) CreateInvestor(ctx context.Context, inv model.Investor) error {
	status := inv.Status
	if status == "" {
		status = "active"
	}
	_, err := s.exec(ctx, `
		INSERT INTO investors (id, legal_name, tax_id, email, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, inv.ID, inv.LegalName, inv.TaxID, inv.Email, status)
	if err != nil {
		return fmt.Errorf("write investor: %w", err)
	}
	return nil
}

// GetInvestor returns an investor by id, or ErrNotFound.
func (s *Store) GetInvestor(ctx context.Context, id string) (model.Investor, error) {
	var inv model.Investor
	err := s.queryRow(ctx, `
		SELECT id, legal_name, tax_id, email, status FROM investors WHERE id = ?
	`, id).Scan(&inv.ID, &inv.LegalName, &inv.TaxID, &inv.Email, &inv.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return inv, fmt.Errorf("investor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return inv, fmt.Errorf("read investor: %w", err)
	}
	return inv, nil
}

// GetInvestor reads an investor inside the transaction.
func (t *Tx) GetInvestor(ctx context.Context, id string) (model.Investor, error) {
	var inv model.Investor
	err := t.queryRow(ctx, `
		SELECT id, legal_name, tax_id, email, status FROM investors WHERE id = ?
	`, id).Scan(&inv.ID, &inv.LegalName, &inv.TaxID, &inv.Email, &inv.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return inv, fmt.Errorf("investor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return inv, fmt.Errorf("read investor: %w", err)
	}
	return inv, nil
}
