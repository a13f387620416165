package website

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	officialmodels "civic/internal/officials/models"
	"civic/internal/officials/projector"
	officialstore "civic/internal/officials/store"
	"civic/internal/verification/models"
	"civic/internal/verification/ports/mocks"
	"civic/internal/verification/store"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/requestcontext"
)

const page = `<!doctype html>
<html><head>
<title>Senator Ada Moreno</title>
<meta charset="utf-8">
<meta name="Civic-Verification" content=" %s ">
</head><body><p>Welcome</p></body></html>`

type VerifierSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	fetcher   *mocks.MockPageFetcher
	requests  *store.InMemory
	officials *officialstore.InMemory
	verifier  *Verifier
	ctx       context.Context
	now       time.Time
	req       *models.Request
}

func TestVerifierSuite(t *testing.T) {
	suite.Run(t, new(VerifierSuite))
}

func (s *VerifierSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.fetcher = mocks.NewMockPageFetcher(s.ctrl)
	s.requests = store.NewInMemory()
	s.officials = officialstore.NewInMemory()
	s.verifier = New(s.requests, s.fetcher, projector.New(s.officials),
		WithTokenSource(func() (string, error) { return "a1b2c3d4", nil }))
	s.now = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	p, err := officialmodels.NewOfficialProfile(id.NewOfficialID(), "Ada Moreno", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.officials.Save(s.ctx, p))

	r, err := models.NewRequest(p.ID, id.NewOfficeID(), id.MethodWebsiteToken, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.requests.CreateIfNoActive(s.ctx, r))
	s.req = r
}

func (s *VerifierSuite) load() *models.Request {
	r, err := s.requests.FindByID(s.ctx, s.req.ID)
	s.Require().NoError(err)
	return r
}

func (s *VerifierSuite) profileStatus() officialmodels.VerificationStatus {
	p, err := s.officials.FindByID(s.ctx, s.req.OfficialID)
	s.Require().NoError(err)
	return p.VerificationStatus
}

func (s *VerifierSuite) issue() {
	token, err := s.verifier.IssueToken(s.ctx, s.load(), "https://senate.ca.gov/moreno#contact")
	s.Require().NoError(err)
	s.Equal("a1b2c3d4", token)
}

func (s *VerifierSuite) TestIssueToken() {
	s.issue()
	stored := s.load()
	s.Equal("a1b2c3d4", stored.Website.Token)
	s.Equal("https://senate.ca.gov/moreno", stored.Website.URL)
	s.False(stored.Website.OwnershipConfirmed)

	for _, bad := range []string{"http://senate.ca.gov", "senate.ca.gov", "https://user:pw@senate.ca.gov", "https://"} {
		_, err := s.verifier.IssueToken(s.ctx, s.load(), bad)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), bad)
	}
}

func (s *VerifierSuite) TestCheckConfirmsOwnershipAndAwaitsReview() {
	s.issue()
	s.fetcher.EXPECT().Fetch(gomock.Any(), "https://senate.ca.gov/moreno").Return([]byte(fmt.Sprintf(page, "a1b2c3d4")), nil)

	s.Require().NoError(s.verifier.Check(s.ctx, s.load()))

	stored := s.load()
	s.Equal(models.StatusPending, stored.Status, "a confirmed website still needs a reviewer")
	s.True(stored.Website.OwnershipConfirmed)
	s.Require().NotNil(stored.Website.CheckedAt)
	s.True(stored.AwaitingReview())
	s.Equal(officialmodels.StatusPending, s.profileStatus())

	_, err := s.verifier.IssueToken(s.ctx, stored, "https://senate.ca.gov/other")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "token is fixed once confirmed")
	s.NoError(s.verifier.Check(s.ctx, stored), "re-checking a confirmed proof is a no-op")
}

func (s *VerifierSuite) TestCheckFailuresAreDistinct() {
	s.issue()
	cases := []struct {
		name string
		body string
		err  error
		code dErrors.Code
	}{
		{"mismatch", fmt.Sprintf(page, "ffffffff"), nil, dErrors.CodeTokenMismatch},
		{"absent", `<html><head><title>x</title></head><body></body></html>`, nil, dErrors.CodeTokenNotFound},
		{"only in body", `<html><head></head><body><meta name="civic-verification" content="a1b2c3d4"></body></html>`, nil, dErrors.CodeTokenNotFound},
		{"fetch error", "", errors.New("tls: handshake failure"), dErrors.CodeFetchFailed},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			var body []byte
			if tc.body != "" {
				body = []byte(tc.body)
			}
			s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(body, tc.err)
			err := s.verifier.Check(s.ctx, s.load())
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
		})
	}

	stored := s.load()
	s.Equal(models.StatusPending, stored.Status)
	s.False(stored.Website.OwnershipConfirmed)
	s.Equal(4, stored.AttemptCount)
	s.Equal(officialmodels.StatusUnverified, s.profileStatus())
}

func (s *VerifierSuite) TestCheckWithoutToken() {
	err := s.verifier.Check(s.ctx, s.load())
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestFindMetaContent(t *testing.T) {
	content, ok := FindMetaContent([]byte(`<head><meta name="civic-verification" content="abc"/></head>`), "civic-verification")
	assert.True(t, ok)
	assert.Equal(t, "abc", content)

	_, ok = FindMetaContent([]byte(`<head><meta name="civic-verification"></head>`), "civic-verification")
	assert.False(t, ok, "a tag without content does not count")

	_, ok = FindMetaContent([]byte(`not html at all`), "civic-verification")
	assert.False(t, ok)
}

func TestRandomToken(t *testing.T) {
	token, err := RandomToken()
	assert.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{8}$`, token)
}
