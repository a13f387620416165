package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"civic/internal/officials/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
	"civic/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists profiles in the officials table. It joins a
// transaction carried in the context when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, p *models.OfficialProfile) error {
	if err := p.CheckInvariant(); err != nil {
		return err
	}
	var officeID uuid.NullUUID
	if p.OfficeID != nil {
		officeID = uuid.NullUUID{UUID: uuid.UUID(*p.OfficeID), Valid: true}
	}
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO officials (id, name, office_id, verification_status, verification_method, verified_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(p.ID), p.Name, officeID, string(p.VerificationStatus), methodValue(p.VerificationMethod), p.VerifiedAt, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("official %s: %w", p.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert official: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, officialID id.OfficialID) (*models.OfficialProfile, error) {
	row := tx.Q(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, name, office_id, verification_status, verification_method, verified_at, updated_at
		FROM officials
		WHERE id = $1
	`, uuid.UUID(officialID))
	p, err := scanOfficial(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find official: %w", err)
	}
	return p, nil
}

// UpdateVerification writes only the verification fields.
func (s *PostgresStore) UpdateVerification(ctx context.Context, p *models.OfficialProfile) error {
	if err := p.CheckInvariant(); err != nil {
		return err
	}
	res, err := tx.Q(ctx, s.db).ExecContext(ctx, `
		UPDATE officials
		SET verification_status = $2, verification_method = $3, verified_at = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(p.ID), string(p.VerificationStatus), methodValue(p.VerificationMethod), p.VerifiedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update official verification: %w", err)
	}
	return requireRow(res)
}

// LinkOffice sets the link only when the official holds no office or
// already holds officeID. A link to another office is ErrConflict, which
// rolls back the surrounding claim.
func (s *PostgresStore) LinkOffice(ctx context.Context, officialID id.OfficialID, officeID id.OfficeID, now time.Time) error {
	q := tx.Q(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE officials SET office_id = $2, updated_at = $3
		WHERE id = $1 AND (office_id IS NULL OR office_id = $2)
	`, uuid.UUID(officialID), uuid.UUID(officeID), now)
	if err != nil {
		return fmt.Errorf("link office: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM officials WHERE id = $1)`, uuid.UUID(officialID)).Scan(&exists); err != nil {
		return fmt.Errorf("probe official: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("official %s holds another office: %w", officialID, sentinel.ErrConflict)
}

// UnlinkOffice clears the link only when it still points at officeID.
func (s *PostgresStore) UnlinkOffice(ctx context.Context, officialID id.OfficialID, officeID id.OfficeID, now time.Time) error {
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, `
		UPDATE officials SET office_id = NULL, updated_at = $3 WHERE id = $1 AND office_id = $2
	`, uuid.UUID(officialID), uuid.UUID(officeID), now)
	if err != nil {
		return fmt.Errorf("unlink office: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func methodValue(m *id.VerificationMethod) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*m), Valid: true}
}

func scanOfficial(row *sql.Row) (*models.OfficialProfile, error) {
	var (
		rawID      uuid.UUID
		officeID   uuid.NullUUID
		status     string
		method     sql.NullString
		verifiedAt sql.NullTime
		p          models.OfficialProfile
	)
	if err := row.Scan(&rawID, &p.Name, &officeID, &status, &method, &verifiedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.OfficialID(rawID)
	p.VerificationStatus = models.VerificationStatus(status)
	if officeID.Valid {
		o := id.OfficeID(officeID.UUID)
		p.OfficeID = &o
	}
	if method.Valid {
		m := id.VerificationMethod(method.String)
		p.VerificationMethod = &m
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		p.VerifiedAt = &t
	}
	return &p, nil
}
