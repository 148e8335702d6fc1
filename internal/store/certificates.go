package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cdv/internal/model"
)

// Sequence names.
const (
	SequenceCertificate = "certificate"
	SequenceUIB         = "uib"
)

// NextSequence increments a named counter and returns the new value.
// The increment is part of the transaction: a rollback releases the number,
// so committed values have no gaps. On PostgreSQL the row lock serializes
// concurrent issuers; on SQLite the single writer does.
func (t *Tx) NextSequence(ctx context.Context, name string) (int64, error) {
	var v int64
	err := t.queryRow(ctx, `
		UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value
	`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sequence %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}
	return v, nil
}

// InsertCertificate writes a fully formed certificate.
func (t *Tx) InsertCertificate(ctx context.Context, c model.Certificate) error {
	kg, minutes, units := c.Quantities.Strings()
	_, err := t.exec(ctx, `
		INSERT INTO certificates
		(id, number, sequence_no, quota_id, project_id, investor_id, investor_legal_name, investor_tax_id,
		 qty_kg, qty_minutes, qty_units, validation_hash, qr_payload, public_link, valid, issued_by, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Number, c.SequenceNo, c.QuotaID, c.ProjectID,
		c.Investor.ID, c.Investor.LegalName, c.Investor.TaxID,
		kg, minutes, units,
		c.ValidationHash, c.QRPayload, c.PublicLink, boolToInt(c.Valid),
		c.IssuedBy, formatTime(c.IssuedAt),
	)
	if err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	return nil
}

const certificateColumns = `id, number, sequence_no, quota_id, project_id, investor_id, investor_legal_name, investor_tax_id,
	qty_kg, qty_minutes, qty_units, validation_hash, qr_payload, public_link, valid, issued_by, issued_at`

func scanCertificate(row rowScanner) (model.Certificate, error) {
	var c model.Certificate
	var kg, minutes, units, issued string
	var valid int
	if err := row.Scan(&c.ID, &c.Number, &c.SequenceNo, &c.QuotaID, &c.ProjectID,
		&c.Investor.ID, &c.Investor.LegalName, &c.Investor.TaxID,
		&kg, &minutes, &units, &c.ValidationHash, &c.QRPayload, &c.PublicLink,
		&valid, &c.IssuedBy, &issued); err != nil {
		return c, err
	}
	c.Valid = valid != 0
	var err error
	if c.Quantities, err = parseQuantities("qty", kg, minutes, units); err != nil {
		return c, err
	}
	if c.IssuedAt, err = parseTime("issued_at", issued); err != nil {
		return c, err
	}
	return c, nil
}

// GetCertificate returns a certificate by id from the read pool, or ErrNotFound.
// UIB ids are filled for certificates built from tokens.
func (s *Store) GetCertificate(ctx context.Context, id string) (model.Certificate, error) {
	c, err := scanCertificate(s.readRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("certificate %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("read certificate: %w", err)
	}
	rows, err := s.readQuery(ctx, `
		SELECT id FROM uibs WHERE certificate_id = ? ORDER BY sequence_no ASC
	`, id)
	if err != nil {
		return c, fmt.Errorf("query certificate uibs: %w", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return c, err
	}
	if len(ids) > 0 {
		c.UIBIDs = ids
	}
	return c, nil
}

// GetCertificateByQuota returns the certificate issued for a quota, or ErrNotFound.
func (s *Store) GetCertificateByQuota(ctx context.Context, quotaID string) (model.Certificate, error) {
	var id string
	err := s.readRow(ctx, `SELECT id FROM certificates WHERE quota_id = ?`, quotaID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Certificate{}, fmt.Errorf("certificate for quota %s: %w", quotaID, ErrNotFound)
	}
	if err != nil {
		return model.Certificate{}, fmt.Errorf("read certificate: %w", err)
	}
	return s.GetCertificate(ctx, id)
}

// CountCertificates returns how many certificates exist for a quota.
func (s *Store) CountCertificates(ctx context.Context, quotaID string) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM certificates WHERE quota_id = ?`, quotaID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return n, nil
}

// ListCertificates returns all certificates ordered by sequence_no ASC.
func (s *Store) ListCertificates(ctx context.Context) ([]model.Certificate, error) {
	rows, err := s.query(ctx, `SELECT `+certificateColumns+` FROM certificates ORDER BY sequence_no ASC`)
	if err != nil {
		return nil, fmt.Errorf("query certificates: %w", err)
	}
	defer rows.Close()

	certs := []model.Certificate{}
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return certs, nil
}

// RevokeCertificate flips valid from 1 to 0 and appends the revocation.
// Returns ErrStaleState if the certificate is already revoked and
// ErrNotFound if it does not exist.
func (s *Store) RevokeCertificate(ctx context.Context, revocationID string, rev model.Revocation) error {
	return s.InTx(ctx, func(tx *Tx) error {
		var valid int
		err := tx.queryRow(ctx, `SELECT valid FROM certificates WHERE id = ?`+tx.dialect.ForUpdate(), rev.CertificateID).Scan(&valid)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("certificate %s: %w", rev.CertificateID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("revoke certificate: %w", err)
		}

		res, err := tx.exec(ctx, `
			UPDATE certificates SET valid = 0 WHERE id = ? AND valid = 1
		`, rev.CertificateID)
		if err != nil {
			return fmt.Errorf("revoke certificate: %w", err)
		}
		if err := expectOne(res, "revoke certificate"); err != nil {
			return err
		}

		_, err = tx.exec(ctx, `
			INSERT INTO certificate_revocations (id, certificate_id, actor, reason, revoked_at)
			VALUES (?, ?, ?, ?, ?)
		`, revocationID, rev.CertificateID, rev.Actor, rev.Reason, formatTime(rev.RevokedAt))
		if err != nil {
			return fmt.Errorf("write revocation: %w", err)
		}
		return nil
	})
}

// ListRevocations returns the revocations of a certificate, oldest first.
func (s *Store) ListRevocations(ctx context.Context, certificateID string) ([]model.Revocation, error) {
	rows, err := s.readQuery(ctx, `
		SELECT certificate_id, actor, reason, revoked_at FROM certificate_revocations
		WHERE certificate_id = ? ORDER BY revoked_at ASC, id ASC
	`, certificateID)
	if err != nil {
		return nil, fmt.Errorf("query revocations: %w", err)
	}
	defer rows.Close()

	revs := []model.Revocation{}
	for rows.Next() {
		var r model.Revocation
		var at string
		if err := rows.Scan(&r.CertificateID, &r.Actor, &r.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan revocation: %w", err)
		}
		if r.RevokedAt, err = parseTime("revoked_at", at); err != nil {
			return nil, err
		}
		revs = append(revs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revocations: %w", err)
	}
	return revs, nil
}
