package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"civic/internal/verification/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
	"civic/pkg/platform/tx"
)

const uniqueViolation = "23505"

const requestColumns = `
	id, official_id, office_id, method, status,
	verification_code, code_issued_at, code_expires_at, verification_email,
	website_token, website_url, website_checked_at, ownership_confirmed,
	document_urls, document_types,
	reviewer_notes, rejection_reason, reviewed_by, attempt_count,
	submitted_at, reviewed_at, created_at, updated_at`

// awaitingReview mirrors models.Request.AwaitingReview.
const awaitingReview = `(
	(method = 'document_upload' AND submitted_at IS NOT NULL)
	OR (method = 'website_token' AND ownership_confirmed)
)`

// PostgresStore persists requests in verification_requests. The partial
// unique index on (official_id) WHERE status = 'pending' backs
// CreateIfNoActive.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateIfNoActive(ctx context.Context, r *models.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	cols := toColumns(r)
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO verification_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`, cols.args()...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("official %s has an active request: %w", r.OfficialID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert verification request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	row := tx.Q(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM verification_requests WHERE id = $1
	`, uuid.UUID(requestID))
	return scanOne(row)
}

func (s *PostgresStore) FindActiveByOfficial(ctx context.Context, officialID id.OfficialID) (*models.Request, error) {
	row := tx.Q(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM verification_requests
		WHERE official_id = $1 AND status = 'pending'
	`, uuid.UUID(officialID))
	return scanOne(row)
}

func (s *PostgresStore) FindLatestByOfficial(ctx context.Context, officialID id.OfficialID) (*models.Request, error) {
	row := tx.Q(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM verification_requests
		WHERE official_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, uuid.UUID(officialID))
	return scanOne(row)
}

func (s *PostgresStore) ListByOfficial(ctx context.Context, officialID id.OfficialID) ([]*models.Request, error) {
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, `
		SELECT `+requestColumns+` FROM verification_requests
		WHERE official_id = $1
		ORDER BY created_at DESC
	`, uuid.UUID(officialID))
	if err != nil {
		return nil, fmt.Errorf("list verification requests: %w", err)
	}
	return scanAll(rows)
}

// Update rewrites a pending request. A terminal row is left untouched and
// reported as ErrInvalidState.
func (s *PostgresStore) Update(ctx context.Context, r *models.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	cols := toColumns(r)
	q := tx.Q(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE verification_requests SET
			status = $5,
			verification_code = $6, code_issued_at = $7, code_expires_at = $8, verification_email = $9,
			website_token = $10, website_url = $11, website_checked_at = $12, ownership_confirmed = $13,
			document_urls = $14, document_types = $15,
			reviewer_notes = $16, rejection_reason = $17, reviewed_by = $18, attempt_count = $19,
			submitted_at = $20, reviewed_at = $21, created_at = $22, updated_at = $23
		WHERE id = $1 AND official_id = $2 AND office_id = $3 AND method = $4 AND status = 'pending'
	`, cols.args()...)
	if err != nil {
		return fmt.Errorf("update verification request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var status string
	err = q.QueryRowContext(ctx, `SELECT status FROM verification_requests WHERE id = $1`, uuid.UUID(r.ID)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("probe verification request: %w", err)
	}
	return fmt.Errorf("request %s is %s: %w", r.ID, status, sentinel.ErrInvalidState)
}

func (s *PostgresStore) ListAwaitingReview(ctx context.Context, limit int) ([]*models.Request, error) {
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, `
		SELECT `+requestColumns+` FROM verification_requests
		WHERE status = 'pending' AND `+awaitingReview+`
		ORDER BY created_at ASC
		LIMIT $1
	`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list awaiting review: %w", err)
	}
	return scanAll(rows)
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Request, error) {
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, `
		SELECT `+requestColumns+` FROM verification_requests
		WHERE status = 'pending' AND NOT `+awaitingReview+` AND updated_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list stale requests: %w", err)
	}
	return scanAll(rows)
}

// limitArg maps "no limit" to NULL, which LIMIT treats as ALL.
func limitArg(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}

type columns struct {
	id, officialID, officeID uuid.UUID
	method, status           string
	code                     sql.NullString
	codeIssuedAt             sql.NullTime
	codeExpiresAt            sql.NullTime
	email                    sql.NullString
	token                    sql.NullString
	url                      sql.NullString
	checkedAt                sql.NullTime
	confirmed                bool
	documentURLs             []string
	documentTypes            []string
	reviewerNotes            string
	rejectionReason          string
	reviewedBy               uuid.NullUUID
	attemptCount             int
	submittedAt              sql.NullTime
	reviewedAt               sql.NullTime
	createdAt, updatedAt     time.Time
}

func (c *columns) args() []any {
	var urls, types any
	if c.documentURLs != nil {
		urls = pq.Array(c.documentURLs)
		types = pq.Array(c.documentTypes)
	}
	return []any{
		c.id, c.officialID, c.officeID, c.method, c.status,
		c.code, c.codeIssuedAt, c.codeExpiresAt, c.email,
		c.token, c.url, c.checkedAt, c.confirmed,
		urls, types,
		c.reviewerNotes, c.rejectionReason, c.reviewedBy, c.attemptCount,
		c.submittedAt, c.reviewedAt, c.createdAt, c.updatedAt,
	}
}

func (c *columns) dest() []any {
	return []any{
		&c.id, &c.officialID, &c.officeID, &c.method, &c.status,
		&c.code, &c.codeIssuedAt, &c.codeExpiresAt, &c.email,
		&c.token, &c.url, &c.checkedAt, &c.confirmed,
		pq.Array(&c.documentURLs), pq.Array(&c.documentTypes),
		&c.reviewerNotes, &c.rejectionReason, &c.reviewedBy, &c.attemptCount,
		&c.submittedAt, &c.reviewedAt, &c.createdAt, &c.updatedAt,
	}
}

func toColumns(r *models.Request) *columns {
	c := &columns{
		id:              uuid.UUID(r.ID),
		officialID:      uuid.UUID(r.OfficialID),
		officeID:        uuid.UUID(r.OfficeID),
		method:          string(r.Method),
		status:          string(r.Status),
		reviewerNotes:   r.ReviewerNotes,
		rejectionReason: r.RejectionReason,
		attemptCount:    r.AttemptCount,
		submittedAt:     nullTime(r.SubmittedAt),
		reviewedAt:      nullTime(r.ReviewedAt),
		createdAt:       r.CreatedAt,
		updatedAt:       r.UpdatedAt,
	}
	if r.ReviewedBy != nil {
		c.reviewedBy = uuid.NullUUID{UUID: uuid.UUID(*r.ReviewedBy), Valid: true}
	}
	switch {
	case r.Email != nil:
		c.code = nullString(r.Email.CodeHash)
		c.email = nullString(r.Email.Target)
		if !r.Email.IssuedAt.IsZero() {
			c.codeIssuedAt = sql.NullTime{Time: r.Email.IssuedAt, Valid: true}
		}
		if !r.Email.ExpiresAt.IsZero() {
			c.codeExpiresAt = sql.NullTime{Time: r.Email.ExpiresAt, Valid: true}
		}
	case r.Documents != nil:
		c.documentURLs = append([]string{}, r.Documents.URLs...)
		c.documentTypes = append([]string{}, r.Documents.Types...)
	case r.Website != nil:
		c.token = nullString(r.Website.Token)
		c.url = nullString(r.Website.URL)
		c.checkedAt = nullTime(r.Website.CheckedAt)
		c.confirmed = r.Website.OwnershipConfirmed
	}
	return c
}

func (c *columns) toRequest() *models.Request {
	r := &models.Request{
		ID:              id.RequestID(c.id),
		OfficialID:      id.OfficialID(c.officialID),
		OfficeID:        id.OfficeID(c.officeID),
		Method:          id.VerificationMethod(c.method),
		Status:          models.Status(c.status),
		ReviewerNotes:   c.reviewerNotes,
		RejectionReason: c.rejectionReason,
		AttemptCount:    c.attemptCount,
		SubmittedAt:     timePtr(c.submittedAt),
		ReviewedAt:      timePtr(c.reviewedAt),
		CreatedAt:       c.createdAt,
		UpdatedAt:       c.updatedAt,
	}
	if c.reviewedBy.Valid {
		rv := id.ReviewerID(c.reviewedBy.UUID)
		r.ReviewedBy = &rv
	}
	switch r.Method {
	case id.MethodGovernmentEmail:
		r.Email = &models.EmailChallenge{
			CodeHash:  c.code.String,
			Target:    c.email.String,
			IssuedAt:  c.codeIssuedAt.Time,
			ExpiresAt: c.codeExpiresAt.Time,
		}
	case id.MethodDocumentUpload:
		r.Documents = &models.DocumentEvidence{URLs: c.documentURLs, Types: c.documentTypes}
	case id.MethodWebsiteToken:
		r.Website = &models.WebsiteProof{
			Token:              c.token.String,
			URL:                c.url.String,
			CheckedAt:          timePtr(c.checkedAt),
			OwnershipConfirmed: c.confirmed,
		}
	}
	return r
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.Request, error) {
	var c columns
	if err := row.Scan(c.dest()...); err != nil {
		return nil, err
	}
	return c.toRequest(), nil
}

func scanOne(row *sql.Row) (*models.Request, error) {
	r, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan verification request: %w", err)
	}
	return r, nil
}

func scanAll(rows *sql.Rows) ([]*models.Request, error) {
	defer rows.Close()
	var out []*models.Request
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification requests: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
