package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"civic/internal/offices/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
	"civic/pkg/platform/tx"
)

const (
	uniqueViolation = "23505"
	officeColumns   = `id, title, jurisdiction, district, claimed, claimed_by, updated_at`
)

// PostgresStore persists offices in government_offices. Claim is a single
// conditional UPDATE so the database arbitrates concurrent claimants.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, office *models.GovernmentOffice) error {
	if err := office.CheckInvariant(); err != nil {
		return err
	}
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO government_offices (`+officeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(office.ID), office.Title, office.Jurisdiction, office.District, office.Claimed, claimantValue(office.ClaimedBy), office.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("office %s: %w", office.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert office: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, officeID id.OfficeID) (*models.GovernmentOffice, error) {
	row := tx.Q(ctx, s.db).QueryRowContext(ctx, `SELECT `+officeColumns+` FROM government_offices WHERE id = $1`, uuid.UUID(officeID))
	o, err := scanOffice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find office: %w", err)
	}
	return o, nil
}

// ClaimIfAvailable flips claimed only when it is currently false. A miss is
// disambiguated into not-found or already-claimed by a follow-up probe.
func (s *PostgresStore) ClaimIfAvailable(ctx context.Context, officeID id.OfficeID, officialID id.OfficialID, now time.Time) (*models.GovernmentOffice, error) {
	q := tx.Q(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		UPDATE government_offices
		SET claimed = TRUE, claimed_by = $2, updated_at = $3
		WHERE id = $1 AND claimed = FALSE
		RETURNING `+officeColumns,
		uuid.UUID(officeID), uuid.UUID(officialID), now)
	o, err := scanOffice(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("official %s already claims an office: %w", officialID, sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("claim office: %w", err)
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM government_offices WHERE id = $1)`, uuid.UUID(officeID)).Scan(&exists); err != nil {
		return nil, fmt.Errorf("probe office: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, sentinel.ErrAlreadyUsed
}

// Release clears the claim and returns the former claimant in one statement.
func (s *PostgresStore) Release(ctx context.Context, officeID id.OfficeID, now time.Time) (*id.OfficialID, error) {
	var prev uuid.NullUUID
	err := tx.Q(ctx, s.db).QueryRowContext(ctx, `
		UPDATE government_offices o
		SET claimed = FALSE, claimed_by = NULL, updated_at = $2
		FROM (SELECT id, claimed_by FROM government_offices WHERE id = $1 FOR UPDATE) prev
		WHERE o.id = prev.id
		RETURNING prev.claimed_by
	`, uuid.UUID(officeID), now).Scan(&prev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("release office: %w", err)
	}
	if !prev.Valid {
		return nil, nil
	}
	claimant := id.OfficialID(prev.UUID)
	return &claimant, nil
}

func (s *PostgresStore) Search(ctx context.Context, terms []string, limit int) ([]*models.GovernmentOffice, error) {
	patterns := make([]string, 0, len(terms))
	for _, t := range terms {
		patterns = append(patterns, "%"+escapeLike(t)+"%")
	}
	if len(patterns) == 0 {
		patterns = append(patterns, "%")
	}
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, `
		SELECT `+officeColumns+`
		FROM government_offices
		WHERE lower(title || ' ' || jurisdiction || ' ' || district) LIKE ALL ($1)
		ORDER BY claimed ASC, title ASC, district ASC
		LIMIT $2
	`, pq.Array(patterns), limit)
	if err != nil {
		return nil, fmt.Errorf("search offices: %w", err)
	}
	defer rows.Close()

	var out []*models.GovernmentOffice
	for rows.Next() {
		o, err := scanOffice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan office: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offices: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func claimantValue(o *id.OfficialID) uuid.NullUUID {
	if o == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*o), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOffice(row scanner) (*models.GovernmentOffice, error) {
	var (
		rawID     uuid.UUID
		claimedBy uuid.NullUUID
		o         models.GovernmentOffice
	)
	if err := row.Scan(&rawID, &o.Title, &o.Jurisdiction, &o.District, &o.Claimed, &claimedBy, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.ID = id.OfficeID(rawID)
	if claimedBy.Valid {
		c := id.OfficialID(claimedBy.UUID)
		o.ClaimedBy = &c
	}
	return &o, nil
}
