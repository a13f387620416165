// Package documents implements the document-upload method and the reviewer
// decision that closes document and website requests.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	officialmodels "civic/internal/officials/models"
	"civic/internal/verification/models"
	"civic/internal/verification/ports"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/sentinel"
	"civic/pkg/requestcontext"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultListLimit      = 50
	maxListLimit          = 200
)

var allowedContentTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/heic":      ".heic",
}

type Store interface {
	Update(ctx context.Context, r *models.Request) error
	ListAwaitingReview(ctx context.Context, limit int) ([]*models.Request, error)
}

type Projector interface {
	Apply(ctx context.Context, officialID id.OfficialID, outcome officialmodels.VerificationStatus, method id.VerificationMethod) error
}

type Queue struct {
	store          Store
	objects        ports.ObjectStore
	projector      Projector
	logger         *slog.Logger
	maxUploadBytes int64
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxUploadBytes = n
		}
	}
}

// New constructs a Queue. objects may be nil, in which case Upload fails and
// callers submit references stored elsewhere.
func New(store Store, objects ports.ObjectStore, projector Projector, opts ...Option) *Queue {
	q := &Queue{
		store:          store,
		objects:        objects,
		projector:      projector,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit records evidence on a pending document request and moves the
// profile to pending. Evidence is submitted once per request; a
// resubmission starts a new request.
func (q *Queue) Submit(ctx context.Context, req *models.Request, refs, types []string) error {
	if err := req.EnsureMethod(id.MethodDocumentUpload); err != nil {
		return err
	}
	if err := req.EnsurePending(); err != nil {
		return err
	}
	if req.SubmittedAt != nil {
		return dErrors.New(dErrors.CodeConflict, "documents already submitted and awaiting review")
	}
	evidence, err := validateEvidence(refs, types)
	if err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	req.Documents = evidence
	req.SubmittedAt = &now
	req.UpdatedAt = now
	if err := q.store.Update(ctx, req); err != nil {
		return storeError(err)
	}
	if err := q.projector.Apply(ctx, req.OfficialID, officialmodels.StatusPending, req.Method); err != nil {
		return err
	}

	q.logAudit(ctx, "documents_submitted",
		"verification_request_id", req.ID,
		"official_id", req.OfficialID,
		"documents", len(evidence.URLs),
	)
	return nil
}

func validateEvidence(refs, types []string) (*models.DocumentEvidence, error) {
	if len(refs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one document is required")
	}
	if len(types) != len(refs) {
		return nil, dErrors.New(dErrors.CodeValidation, "each document needs a type")
	}
	evidence := &models.DocumentEvidence{
		URLs:  make([]string, 0, len(refs)),
		Types: make([]string, 0, len(types)),
	}
	for i, ref := range refs {
		ref = strings.TrimSpace(ref)
		u, err := url.Parse(ref)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("document %d is not an absolute URL", i+1))
		}
		typ := strings.ToLower(strings.TrimSpace(types[i]))
		if typ == "" {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("document %d has no type", i+1))
		}
		evidence.URLs = append(evidence.URLs, ref)
		evidence.Types = append(evidence.Types, typ)
	}
	return evidence, nil
}

// Decide closes a request awaiting review. Document requests qualify once
// evidence is submitted; website requests once ownership is confirmed.
// Rejection requires notes, which become the rejection reason. The office
// claim is never touched.
func (q *Queue) Decide(ctx context.Context, req *models.Request, outcome models.Outcome, notes string, reviewer id.ReviewerID) error {
	if reviewer.IsNil() {
		return dErrors.New(dErrors.CodeForbidden, "a reviewer is required")
	}
	if err := req.EnsurePending(); err != nil {
		return err
	}
	switch req.Method {
	case id.MethodDocumentUpload, id.MethodWebsiteToken:
	default:
		return dErrors.New(dErrors.CodeBadRequest, req.Method.String()+" requests are not reviewed")
	}
	if !req.AwaitingReview() {
		return dErrors.New(dErrors.CodeConflict, "request has nothing to review yet")
	}

	now := requestcontext.Now(ctx)
	notes = strings.TrimSpace(notes)
	req.ReviewerNotes = notes

	var projected officialmodels.VerificationStatus
	switch outcome {
	case models.OutcomeApproved:
		req.MarkVerified(now, &reviewer)
		projected = officialmodels.StatusVerified
	case models.OutcomeRejected:
		if notes == "" {
			return dErrors.New(dErrors.CodeValidation, "a rejection reason is required")
		}
		req.MarkRejected(now, notes, &reviewer)
		projected = officialmodels.StatusRejected
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "outcome must be approved or rejected")
	}

	if err := q.store.Update(ctx, req); err != nil {
		return storeError(err)
	}
	if err := q.projector.Apply(ctx, req.OfficialID, projected, req.Method); err != nil {
		return err
	}

	q.logAudit(ctx, "review_decided",
		"verification_request_id", req.ID,
		"official_id", req.OfficialID,
		"reviewer_id", reviewer,
		"outcome", outcome,
		"method", req.Method,
	)
	return nil
}

// Upload stores one evidence file for officialID and returns its public URL.
func (q *Queue) Upload(ctx context.Context, officialID id.OfficialID, filename, contentType string, body io.Reader) (string, error) {
	if q.objects == nil {
		return "", dErrors.New(dErrors.CodeUploadFailed, "evidence storage is not configured")
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", dErrors.New(dErrors.CodeValidation, "unsupported document type "+contentType)
	}

	data, err := io.ReadAll(io.LimitReader(body, q.maxUploadBytes+1))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUploadFailed, "failed to read document")
	}
	if len(data) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "document is empty")
	}
	if int64(len(data)) > q.maxUploadBytes {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("document exceeds %d bytes", q.maxUploadBytes))
	}

	key := EvidenceKey(officialID, uuid.NewString(), filename, ext)
	publicURL, err := q.objects.Upload(ctx, key, contentType, bytes.NewReader(data))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUploadFailed, "failed to upload document")
	}
	q.logAudit(ctx, "evidence_uploaded",
		"official_id", officialID,
		"content_type", contentType,
		"size", len(data),
	)
	return publicURL, nil
}

// EvidenceKey builds the object key officials/{official}/evidence/{id}/{name}.
func EvidenceKey(officialID id.OfficialID, objectID, filename, ext string) string {
	name := sanitizeFilename(filename)
	if path.Ext(name) == "" {
		name += ext
	}
	return fmt.Sprintf("officials/%s/evidence/%s/%s", officialID, objectID, name)
}

func sanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "document"
	}
	return out
}

// ListPending returns requests awaiting a reviewer, oldest first.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]*models.Request, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	reqs, err := q.store.ListAwaitingReview(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list review queue")
	}
	return reqs, nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "verification request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, "verification request is no longer pending")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save verification request")
	}
}

func (q *Queue) logAudit(ctx context.Context, event string, attributes ...any) {
	if q.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	q.logger.InfoContext(ctx, event, args...)
}
