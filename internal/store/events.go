package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cdv/internal/model"
)

const eventColumns = `id, type, quantity, subtype, project_id, origin_ref, occurred_at, processed, rejection_reason, created_at`

func scanEvent(row rowScanner) (model.ImpactEvent, error) {
	var ev model.ImpactEvent
	var typ, occurred, created string
	var processed int
	if err := row.Scan(&ev.ID, &typ, &ev.Quantity, &ev.Subtype, &ev.ProjectID, &ev.OriginRef,
		&occurred, &processed, &ev.RejectionReason, &created); err != nil {
		return ev, err
	}
	ev.Type = model.ImpactType(typ)
	ev.Processed = processed != 0
	var err error
	if ev.OccurredAt, err = parseTime("occurred_at", occurred); err != nil {
		return ev, err
	}
	if ev.CreatedAt, err = parseTime("created_at", created); err != nil {
		return ev, err
	}
	return ev, nil
}

// InsertImpactEvent appends an impact event.
// Uses ON CONFLICT DO NOTHING on (type, origin_ref, subtype) so collaborator
// retries are idempotent. Returns the id of the stored event (the existing
// one on conflict) and whether a new row was inserted.
func (s *Store) InsertImpactEvent(ctx context.Context, ev model.ImpactEvent) (id string, inserted bool, err error) {
	err = s.InTx(ctx, func(tx *Tx) error {
		res, err := tx.exec(ctx, `
			INSERT INTO impact_events
			(id, type, quantity, subtype, project_id, origin_ref, occurred_at, processed, rejection_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?)
			ON CONFLICT DO NOTHING
		`,
			ev.ID, string(ev.Type), ev.Quantity, ev.Subtype, ev.ProjectID, ev.OriginRef,
			formatTime(ev.OccurredAt), formatTime(ev.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("write impact event: insert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("write impact event: rows affected: %w", err)
		}
		if n > 0 {
			id, inserted = ev.ID, true
			return nil
		}
		err = tx.queryRow(ctx, `
			SELECT id FROM impact_events WHERE type = ? AND origin_ref = ? AND subtype = ?
		`, string(ev.Type), ev.OriginRef, ev.Subtype).Scan(&id)
		if err != nil {
			return fmt.Errorf("write impact event: select existing: %w", err)
		}
		return nil
	})
	return id, inserted, err
}

// GetImpactEvent returns an impact event by id, or ErrNotFound.
func (s *Store) GetImpactEvent(ctx context.Context, id string) (model.ImpactEvent, error) {
	ev, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM impact_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ev, fmt.Errorf("impact event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ev, fmt.Errorf("read impact event: %w", err)
	}
	return ev, nil
}

// ListUnprocessedEvents returns up to limit unprocessed events,
// ordered by occurred_at ASC, id ASC.
func (s *Store) ListUnprocessedEvents(ctx context.Context, limit int) ([]model.ImpactEvent, error) {
	rows, err := s.query(ctx, `
		SELECT `+eventColumns+` FROM impact_events
		WHERE processed = 0
		ORDER BY occurred_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query impact events: %w", err)
	}
	defer rows.Close()

	events := []model.ImpactEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan impact event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate impact events: %w", err)
	}
	return events, nil
}

// PromoteEvent atomically marks an event processed and inserts the
// inventory record derived from it. Returns ErrStaleState if the event was
// already processed by another runner; nothing is written in that case.
func (s *Store) PromoteEvent(ctx context.Context, eventID string, rec model.InventoryRecord) error {
	return s.InTx(ctx, func(tx *Tx) error {
		res, err := tx.exec(ctx, `
			UPDATE impact_events SET processed = 1 WHERE id = ? AND processed = 0
		`, eventID)
		if err != nil {
			return fmt.Errorf("promote event: mark processed: %w", err)
		}
		if err := expectOne(res, "promote event"); err != nil {
			return err
		}
		return tx.InsertInventory(ctx, rec)
	})
}

// RejectEvent quarantines an event that cannot be promoted.
// It is marked processed with a reason so later batches skip it.
func (s *Store) RejectEvent(ctx context.Context, eventID, reason string) error {
	res, err := s.exec(ctx, `
		UPDATE impact_events SET processed = 1, rejection_reason = ?
		WHERE id = ? AND processed = 0
	`, reason, eventID)
	if err != nil {
		return fmt.Errorf("reject event: %w", err)
	}
	return expectOne(res, "reject event")
}

// ListRejectedEvents returns quarantined events ordered by occurred_at, id.
func (s *Store) ListRejectedEvents(ctx context.Context) ([]model.ImpactEvent, error) {
	rows, err := s.query(ctx, `
		SELECT `+eventColumns+` FROM impact_events
		WHERE processed = 1 AND rejection_reason <> ''
		ORDER BY occurred_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rejected events: %w", err)
	}
	defer rows.Close()

	events := []model.ImpactEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan impact event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejected events: %w", err)
	}
	return events, nil
}
