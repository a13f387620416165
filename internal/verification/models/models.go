package models

import (
	"strings"
	"time"

	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
)

// Status is the lifecycle status of a VerificationRequest. Only pending is
// non-terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) IsTerminal() bool { return s != StatusPending }

func (s Status) String() string { return string(s) }

// Outcome is a reviewer's decision.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeApproved, OutcomeRejected:
		return o, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "outcome must be approved or rejected")
	}
}

// EmailChallenge is the one live code of a government_email request. Only a
// hash of the code is kept; a successful verification clears it.
type EmailChallenge struct {
	CodeHash  string    `json:"-"`
	Target    string    `json:"target,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitzero"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// HasLiveCode reports whether a code was issued and not yet consumed.
func (c *EmailChallenge) HasLiveCode() bool {
	return c != nil && c.CodeHash != ""
}

type DocumentEvidence struct {
	URLs  []string `json:"urls"`
	Types []string `json:"types"`
}

type WebsiteProof struct {
	Token              string     `json:"token,omitempty"`
	URL                string     `json:"url,omitempty"`
	CheckedAt          *time.Time `json:"checked_at,omitempty"`
	OwnershipConfirmed bool       `json:"ownership_confirmed"`
}

// Request is one attempt to verify one official for one office via one
// method.
//
// Invariants:
//   - exactly one payload is set and it matches Method
//   - once Status leaves pending the request is never written again
//   - an official has at most one pending request (enforced by the store)
type Request struct {
	ID              id.RequestID          `json:"id"`
	OfficialID      id.OfficialID         `json:"official_id"`
	OfficeID        id.OfficeID           `json:"office_id"`
	Method          id.VerificationMethod `json:"method"`
	Status          Status                `json:"status"`
	Email           *EmailChallenge       `json:"email,omitempty"`
	Documents       *DocumentEvidence     `json:"documents,omitempty"`
	Website         *WebsiteProof         `json:"website,omitempty"`
	SubmittedAt     *time.Time            `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time            `json:"reviewed_at,omitempty"`
	ReviewedBy      *id.ReviewerID        `json:"reviewed_by,omitempty"`
	ReviewerNotes   string                `json:"reviewer_notes,omitempty"`
	RejectionReason string                `json:"rejection_reason,omitempty"`
	AttemptCount    int                   `json:"attempt_count"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// NewRequest opens a pending request with the empty payload of its method.
func NewRequest(officialID id.OfficialID, officeID id.OfficeID, method id.VerificationMethod, now time.Time) (*Request, error) {
	if officialID.IsNil() || officeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "official and office are required")
	}
	r := &Request{
		ID:         id.NewRequestID(),
		OfficialID: officialID,
		OfficeID:   officeID,
		Method:     method,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	switch method {
	case id.MethodGovernmentEmail:
		r.Email = &EmailChallenge{}
	case id.MethodDocumentUpload:
		r.Documents = &DocumentEvidence{}
	case id.MethodWebsiteToken:
		r.Website = &WebsiteProof{}
	default:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown verification method")
	}
	return r, nil
}

// Validate checks the payload invariant.
func (r *Request) Validate() error {
	set := 0
	if r.Email != nil {
		set++
	}
	if r.Documents != nil {
		set++
	}
	if r.Website != nil {
		set++
	}
	if set != 1 {
		return dErrors.New(dErrors.CodeInvariantViolation, "request must carry exactly one payload")
	}
	var ok bool
	switch r.Method {
	case id.MethodGovernmentEmail:
		ok = r.Email != nil
	case id.MethodDocumentUpload:
		ok = r.Documents != nil
	case id.MethodWebsiteToken:
		ok = r.Website != nil
	}
	if !ok {
		return dErrors.New(dErrors.CodeInvariantViolation, "payload does not match method")
	}
	switch r.Status {
	case StatusPending, StatusVerified, StatusRejected, StatusExpired:
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown request status")
	}
	return nil
}

func (r *Request) IsTerminal() bool { return r.Status.IsTerminal() }

// EnsurePending refuses mutations of terminal requests.
func (r *Request) EnsurePending() error {
	if r.IsTerminal() {
		return dErrors.New(dErrors.CodeConflict, "verification request is already "+r.Status.String())
	}
	return nil
}

// EnsureMethod refuses operations that belong to another method.
func (r *Request) EnsureMethod(m id.VerificationMethod) error {
	if r.Method != m {
		return dErrors.New(dErrors.CodeBadRequest, "operation not valid for "+r.Method.String()+" verification")
	}
	return nil
}

// AwaitingReview reports whether a reviewer decision is the next step.
func (r *Request) AwaitingReview() bool {
	if r.IsTerminal() {
		return false
	}
	switch r.Method {
	case id.MethodDocumentUpload:
		return r.SubmittedAt != nil
	case id.MethodWebsiteToken:
		return r.Website != nil && r.Website.OwnershipConfirmed
	default:
		return false
	}
}

func (r *Request) MarkVerified(now time.Time, reviewer *id.ReviewerID) {
	r.Status = StatusVerified
	r.stampReview(now, reviewer)
}

func (r *Request) MarkRejected(now time.Time, reason string, reviewer *id.ReviewerID) {
	r.Status = StatusRejected
	r.RejectionReason = reason
	r.stampReview(now, reviewer)
}

func (r *Request) MarkExpired(now time.Time) {
	r.Status = StatusExpired
	if r.Email != nil {
		r.Email.CodeHash = ""
	}
	r.UpdatedAt = now
}

func (r *Request) stampReview(now time.Time, reviewer *id.ReviewerID) {
	t := now
	r.ReviewedAt = &t
	if reviewer != nil {
		rv := *reviewer
		r.ReviewedBy = &rv
	}
	r.UpdatedAt = now
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	c := *r
	if r.Email != nil {
		e := *r.Email
		c.Email = &e
	}
	if r.Documents != nil {
		d := DocumentEvidence{
			URLs:  append([]string(nil), r.Documents.URLs...),
			Types: append([]string(nil), r.Documents.Types...),
		}
		c.Documents = &d
	}
	if r.Website != nil {
		w := *r.Website
		if r.Website.CheckedAt != nil {
			t := *r.Website.CheckedAt
			w.CheckedAt = &t
		}
		c.Website = &w
	}
	c.SubmittedAt = cloneTime(r.SubmittedAt)
	c.ReviewedAt = cloneTime(r.ReviewedAt)
	if r.ReviewedBy != nil {
		rv := *r.ReviewedBy
		c.ReviewedBy = &rv
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
