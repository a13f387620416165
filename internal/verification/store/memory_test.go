package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civic/internal/verification/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
)

type RequestStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestRequestStoreSuite(t *testing.T) {
	suite.Run(t, new(RequestStoreSuite))
}

func (s *RequestStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
}

func (s *RequestStoreSuite) newRequest(official id.OfficialID, method id.VerificationMethod, at time.Time) *models.Request {
	r, err := models.NewRequest(official, id.NewOfficeID(), method, at)
	s.Require().NoError(err)
	return r
}

func (s *RequestStoreSuite) TestCreateIfNoActive() {
	s.Run("rejects a second active request for the same official", func() {
		official := id.NewOfficialID()
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, s.newRequest(official, id.MethodGovernmentEmail, s.now)))

		err := s.store.CreateIfNoActive(s.ctx, s.newRequest(official, id.MethodWebsiteToken, s.now))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("allows a new request once the previous one is terminal", func() {
		official := id.NewOfficialID()
		first := s.newRequest(official, id.MethodDocumentUpload, s.now)
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, first))
		first.MarkRejected(s.now, "illegible ID", nil)
		s.Require().NoError(s.store.Update(s.ctx, first))

		s.NoError(s.store.CreateIfNoActive(s.ctx, s.newRequest(official, id.MethodWebsiteToken, s.now.Add(time.Minute))))
	})

	s.Run("rejects an invalid payload", func() {
		r := s.newRequest(id.NewOfficialID(), id.MethodGovernmentEmail, s.now)
		r.Website = &models.WebsiteProof{}
		s.Error(s.store.CreateIfNoActive(s.ctx, r))
	})
}

func (s *RequestStoreSuite) TestConcurrentCreateYieldsOneActive() {
	official := id.NewOfficialID()
	const goroutines = 32

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.store.CreateIfNoActive(s.ctx, s.newRequest(official, id.MethodGovernmentEmail, s.now)) == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), created.Load())
}

func (s *RequestStoreSuite) TestUpdate() {
	s.Run("terminal requests are never rewritten", func() {
		r := s.newRequest(id.NewOfficialID(), id.MethodGovernmentEmail, s.now)
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))
		r.MarkVerified(s.now, nil)
		s.Require().NoError(s.store.Update(s.ctx, r))

		r.Status = models.StatusPending
		s.ErrorIs(s.store.Update(s.ctx, r), sentinel.ErrInvalidState)

		stored, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, stored.Status)
	})

	s.Run("unknown request", func() {
		r := s.newRequest(id.NewOfficialID(), id.MethodGovernmentEmail, s.now)
		s.ErrorIs(s.store.Update(s.ctx, r), sentinel.ErrNotFound)
	})

	s.Run("stored copies are isolated from callers", func() {
		r := s.newRequest(id.NewOfficialID(), id.MethodDocumentUpload, s.now)
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))
		r.Documents.URLs = append(r.Documents.URLs, "https://evidence/x.pdf")

		stored, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Empty(stored.Documents.URLs)
	})
}

func (s *RequestStoreSuite) TestQueriesByOfficial() {
	official := id.NewOfficialID()
	first := s.newRequest(official, id.MethodDocumentUpload, s.now)
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, first))
	first.MarkRejected(s.now.Add(time.Minute), "illegible ID", nil)
	s.Require().NoError(s.store.Update(s.ctx, first))
	second := s.newRequest(official, id.MethodWebsiteToken, s.now.Add(2*time.Minute))
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, second))

	history, err := s.store.ListByOfficial(s.ctx, official)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(second.ID, history[0].ID)
	s.Equal(first.ID, history[1].ID)

	latest, err := s.store.FindLatestByOfficial(s.ctx, official)
	s.Require().NoError(err)
	s.Equal(second.ID, latest.ID)

	active, err := s.store.FindActiveByOfficial(s.ctx, official)
	s.Require().NoError(err)
	s.Equal(second.ID, active.ID)

	_, err = s.store.FindActiveByOfficial(s.ctx, id.NewOfficialID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindLatestByOfficial(s.ctx, id.NewOfficialID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RequestStoreSuite) TestReviewAndStaleListings() {
	submitted := s.newRequest(id.NewOfficialID(), id.MethodDocumentUpload, s.now)
	at := s.now
	submitted.SubmittedAt = &at
	submitted.Documents.URLs = []string{"https://evidence/id.pdf"}
	submitted.Documents.Types = []string{"government_id"}
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, submitted))

	confirmed := s.newRequest(id.NewOfficialID(), id.MethodWebsiteToken, s.now)
	confirmed.Website.OwnershipConfirmed = true
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, confirmed))

	idle := s.newRequest(id.NewOfficialID(), id.MethodGovernmentEmail, s.now)
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, idle))

	fresh := s.newRequest(id.NewOfficialID(), id.MethodGovernmentEmail, s.now.Add(time.Hour))
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, fresh))

	pending, err := s.store.ListAwaitingReview(s.ctx, 10)
	s.Require().NoError(err)
	s.ElementsMatch([]id.RequestID{submitted.ID, confirmed.ID}, ids(pending))

	limited, err := s.store.ListAwaitingReview(s.ctx, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)

	stale, err := s.store.ListStale(s.ctx, s.now.Add(30*time.Minute), 0)
	s.Require().NoError(err)
	s.Equal([]id.RequestID{idle.ID}, ids(stale))
}

func ids(rs []*models.Request) []id.RequestID {
	out := make([]id.RequestID, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
