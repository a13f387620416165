package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
)

var now = time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

func TestNewRequest(t *testing.T) {
	for _, tc := range []struct {
		method id.VerificationMethod
		check  func(*testing.T, *Request)
	}{
		{id.MethodGovernmentEmail, func(t *testing.T, r *Request) { assert.NotNil(t, r.Email) }},
		{id.MethodDocumentUpload, func(t *testing.T, r *Request) { assert.NotNil(t, r.Documents) }},
		{id.MethodWebsiteToken, func(t *testing.T, r *Request) { assert.NotNil(t, r.Website) }},
	} {
		t.Run(tc.method.String(), func(t *testing.T) {
			r, err := NewRequest(id.NewOfficialID(), id.NewOfficeID(), tc.method, now)
			require.NoError(t, err)
			assert.Equal(t, StatusPending, r.Status)
			assert.NoError(t, r.Validate())
			tc.check(t, r)
		})
	}

	t.Run("unknown method", func(t *testing.T) {
		_, err := NewRequest(id.NewOfficialID(), id.NewOfficeID(), "carrier_pigeon", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("missing office", func(t *testing.T) {
		_, err := NewRequest(id.NewOfficialID(), id.OfficeID{}, id.MethodGovernmentEmail, now)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("two payloads", func(t *testing.T) {
		r, err := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodGovernmentEmail, now)
		require.NoError(t, err)
		r.Documents = &DocumentEvidence{}
		assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeInvariantViolation))
	})

	t.Run("payload of another method", func(t *testing.T) {
		r, err := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodGovernmentEmail, now)
		require.NoError(t, err)
		r.Email = nil
		r.Website = &WebsiteProof{}
		assert.Error(t, r.Validate())
	})

	t.Run("no payload", func(t *testing.T) {
		r, err := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodWebsiteToken, now)
		require.NoError(t, err)
		r.Website = nil
		assert.Error(t, r.Validate())
	})
}

func TestTransitions(t *testing.T) {
	reviewer := id.NewReviewerID()

	t.Run("rejection records reason and reviewer", func(t *testing.T) {
		r, _ := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodDocumentUpload, now)
		r.MarkRejected(now.Add(time.Hour), "illegible ID", &reviewer)

		assert.Equal(t, StatusRejected, r.Status)
		assert.Equal(t, "illegible ID", r.RejectionReason)
		require.NotNil(t, r.ReviewedAt)
		assert.Equal(t, now.Add(time.Hour), *r.ReviewedAt)
		assert.Equal(t, reviewer, *r.ReviewedBy)
		assert.True(t, dErrors.HasCode(r.EnsurePending(), dErrors.CodeConflict))
	})

	t.Run("expiry drops any live code", func(t *testing.T) {
		r, _ := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodGovernmentEmail, now)
		r.Email.CodeHash = "hash"
		r.MarkExpired(now)

		assert.Equal(t, StatusExpired, r.Status)
		assert.False(t, r.Email.HasLiveCode())
		assert.Nil(t, r.ReviewedAt)
	})

	t.Run("verification without reviewer", func(t *testing.T) {
		r, _ := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodGovernmentEmail, now)
		r.MarkVerified(now, nil)

		assert.Equal(t, StatusVerified, r.Status)
		assert.Nil(t, r.ReviewedBy)
		assert.True(t, r.IsTerminal())
	})
}

func TestAwaitingReview(t *testing.T) {
	docs, _ := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodDocumentUpload, now)
	assert.False(t, docs.AwaitingReview())
	docs.SubmittedAt = &now
	assert.True(t, docs.AwaitingReview())

	site, _ := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodWebsiteToken, now)
	assert.False(t, site.AwaitingReview())
	site.Website.OwnershipConfirmed = true
	assert.True(t, site.AwaitingReview())
	site.MarkVerified(now, nil)
	assert.False(t, site.AwaitingReview())

	email, _ := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodGovernmentEmail, now)
	assert.False(t, email.AwaitingReview())
}

func TestEnsureMethod(t *testing.T) {
	r, _ := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodWebsiteToken, now)
	assert.NoError(t, r.EnsureMethod(id.MethodWebsiteToken))
	assert.True(t, dErrors.HasCode(r.EnsureMethod(id.MethodGovernmentEmail), dErrors.CodeBadRequest))
}

func TestCloneIsDeep(t *testing.T) {
	r, _ := NewRequest(id.NewOfficialID(), id.NewOfficeID(), id.MethodDocumentUpload, now)
	r.Documents.URLs = []string{"a"}
	r.SubmittedAt = &now

	c := r.Clone()
	c.Documents.URLs[0] = "b"
	*c.SubmittedAt = now.Add(time.Hour)

	assert.Equal(t, "a", r.Documents.URLs[0])
	assert.Equal(t, now, *r.SubmittedAt)
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome(" Approved ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, o)

	_, err = ParseOutcome("maybe")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
