package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"civic/internal/events"
	officemodels "civic/internal/offices/models"
	officeservice "civic/internal/offices/service"
	officestore "civic/internal/offices/store"
	officialmodels "civic/internal/officials/models"
	"civic/internal/officials/projector"
	officialstore "civic/internal/officials/store"
	"civic/internal/verification/cooldown"
	"civic/internal/verification/documents"
	"civic/internal/verification/emailcode"
	"civic/internal/verification/metrics"
	"civic/internal/verification/models"
	"civic/internal/verification/ports/mocks"
	"civic/internal/verification/store"
	"civic/internal/verification/website"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/sentinel"
	"civic/pkg/platform/tx"
	"civic/pkg/requestcontext"
	"civic/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	fetcher   *mocks.MockPageFetcher
	offices   *officestore.InMemory
	officials *officialstore.InMemory
	requests  *store.InMemory
	registry  *officeservice.Registry
	recorder  *events.Recorder
	metrics   *metrics.Metrics
	service   *Service
	now       time.Time

	mu        sync.Mutex
	nextCodes []string
	sent      []string
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.fetcher = mocks.NewMockPageFetcher(s.ctrl)
	mailer := mocks.NewMockMailer(s.ctrl)
	mailer.EXPECT().SendCode(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, code string) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sent = append(s.sent, code)
			return nil
		}).AnyTimes()

	s.offices = officestore.NewInMemory()
	s.officials = officialstore.NewInMemory()
	s.requests = store.NewInMemory()
	s.recorder = &events.Recorder{}
	bus := events.NewBus()
	bus.Subscribe(s.recorder)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	s.nextCodes = nil
	s.sent = nil

	s.registry = officeservice.New(s.offices, s.officials, &tx.MutexRunner{}, officeservice.WithPublisher(bus))
	proj := projector.New(s.officials, projector.WithPublisher(bus))
	issuer := emailcode.New(s.requests, mailer, proj,
		emailcode.WithBcryptCost(bcrypt.MinCost),
		emailcode.WithAllowedDomains([]string{".gov"}),
		emailcode.WithCodeSource(s.code),
	)
	queue := documents.New(s.requests, nil, proj)
	verifier := website.New(s.requests, s.fetcher, proj,
		website.WithTokenSource(func() (string, error) { return "a1b2c3d4", nil }))

	s.service = New(s.requests, s.officials, s.registry,
		Methods{Codes: issuer, Documents: queue, Website: verifier},
		proj,
		WithPublisher(bus),
		WithMetrics(s.metrics),
		WithCooldown(cooldown.NewTracker(cooldown.NewInMemory(), time.Minute)),
	)
}

func (s *ServiceSuite) code() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.nextCodes) == 0 {
		return emailcode.RandomCode()
	}
	c := s.nextCodes[0]
	s.nextCodes = s.nextCodes[1:]
	return c, nil
}

func (s *ServiceSuite) lastSent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.sent)
	return s.sent[len(s.sent)-1]
}

func (s *ServiceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(offset))
}

func (s *ServiceSuite) seedOffice(title, district string) *officemodels.GovernmentOffice {
	o, err := officemodels.NewGovernmentOffice(id.NewOfficeID(), title, "California", district, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.offices.Save(s.at(0), o))
	return o
}

func (s *ServiceSuite) seedOfficial(name string) *officialmodels.OfficialProfile {
	p, err := officialmodels.NewOfficialProfile(id.NewOfficialID(), name, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.officials.Save(s.at(0), p))
	return p
}

// claimed seeds an official holding a fresh office.
func (s *ServiceSuite) claimed() (*officialmodels.OfficialProfile, *officemodels.GovernmentOffice) {
	office := s.seedOffice("Mayor", "Springfield")
	official := s.seedOfficial("Ada Moreno")
	s.Require().NoError(s.registry.Claim(s.at(0), office.ID, official.ID))
	return official, office
}

func (s *ServiceSuite) profile(officialID id.OfficialID) *officialmodels.OfficialProfile {
	p, err := s.officials.FindByID(context.Background(), officialID)
	s.Require().NoError(err)
	return p
}

func (s *ServiceSuite) state(officialID id.OfficialID) *Snapshot {
	snap, err := s.service.State(s.at(0), officialID)
	s.Require().NoError(err)
	return snap
}

// TestExpiredCodeThenResendVerifies walks the email scenario end to end.
func (s *ServiceSuite) TestExpiredCodeThenResendVerifies() {
	t := s.T()
	office := s.seedOffice("State Senator", "District 15")
	a := s.seedOfficial("Ada Moreno")
	b := s.seedOfficial("Ben Ortiz")
	var req *models.Request

	testutil.Given(t, "an unclaimed office contested by two officials", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i, official := range []id.OfficialID{a.ID, b.ID} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				errs[i] = s.registry.Claim(s.at(0), office.ID, official)
			}()
		}
		close(start)
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClaimed))
				failures++
			}
		}
		s.Equal(1, failures)

		// Make A the winner regardless of scheduling.
		got, err := s.registry.Get(s.at(0), office.ID)
		s.Require().NoError(err)
		if !got.IsClaimedBy(a.ID) {
			s.Require().NoError(s.registry.Release(s.at(0), office.ID))
			s.Require().NoError(s.registry.Claim(s.at(0), office.ID, a.ID))
			s.True(dErrors.HasCode(s.registry.Claim(s.at(0), office.ID, b.ID), dErrors.CodeAlreadyClaimed))
		}
	})

	testutil.When(t, "A requests a code for a@senate.ca.gov", func(t *testing.T) {
		var err error
		req, err = s.service.Start(s.at(0), a.ID, id.MethodGovernmentEmail)
		s.Require().NoError(err)
		s.Equal(StateSubmittingChallenge, s.state(a.ID).State)

		s.nextCodes = []string{"483920"}
		delivery, err := s.service.SendCode(s.at(0), a.ID, req.ID, "a@senate.ca.gov")
		s.Require().NoError(err)
		s.Equal(s.now.Add(15*time.Minute), delivery.ExpiresAt)
		s.Equal(s.now.Add(time.Minute), delivery.ResendAvailableAt)
		s.Equal("483920", s.lastSent())
		s.Equal(StateAwaitingCode, s.state(a.ID).State)
	})

	testutil.Then(t, "the right code at +16m is expired", func(t *testing.T) {
		err := s.service.SubmitCode(s.at(16*time.Minute), a.ID, req.ID, "483920")
		s.True(dErrors.HasCode(err, dErrors.CodeExpiredCode), "got %v", err)
		s.Equal(Failure{Kind: KindExpiredCode}, Classify(err))
	})

	testutil.And(t, "a resent code within expiry verifies the profile", func(t *testing.T) {
		_, err := s.service.ResendCode(s.at(17*time.Minute), a.ID, req.ID)
		s.Require().NoError(err)
		fresh := s.lastSent()
		s.NotEqual("483920", fresh)

		s.Require().NoError(s.service.SubmitCode(s.at(20*time.Minute), a.ID, req.ID, fresh))

		p := s.profile(a.ID)
		s.Equal(officialmodels.StatusVerified, p.VerificationStatus)
		s.Equal(id.MethodGovernmentEmail, *p.VerificationMethod)
		s.Equal(s.now.Add(20*time.Minute), *p.VerifiedAt)
		s.Equal(StateSuccess, s.state(a.ID).State)
		s.Contains(s.recorder.Types(), events.CodeVerified)
		s.Equal(1.0, promtest.ToFloat64(s.metrics.Outcomes.WithLabelValues("government_email", "verified")))
	})
}

// TestRejectedDocumentsThenWebsiteKeepsClaim walks the retry scenario.
func (s *ServiceSuite) TestRejectedDocumentsThenWebsiteKeepsClaim() {
	t := s.T()
	official, office := s.claimed()
	reviewer := id.NewReviewerID()
	assertClaimHeld := func() {
		got, err := s.registry.Get(s.at(0), office.ID)
		s.Require().NoError(err)
		s.True(got.IsClaimedBy(official.ID))
		s.True(s.profile(official.ID).HoldsOffice(office.ID))
	}

	testutil.Given(t, "a document submission rejected for an illegible ID", func(t *testing.T) {
		req, err := s.service.Start(s.at(0), official.ID, id.MethodDocumentUpload)
		s.Require().NoError(err)
		s.Equal(StateUploadingDocuments, s.state(official.ID).State)

		s.Require().NoError(s.service.SubmitDocuments(s.at(time.Minute), official.ID, req.ID,
			[]string{"https://evidence.example/id.jpg"}, []string{"government_id"}))
		s.Equal(officialmodels.StatusPending, s.profile(official.ID).VerificationStatus)
		s.Equal(StateAwaitingReview, s.state(official.ID).State)

		s.Require().NoError(s.service.Decide(s.at(time.Hour), reviewer, req.ID, models.OutcomeRejected, "illegible ID"))
		snap := s.state(official.ID)
		s.Equal(StateError, snap.State)
		s.Equal("illegible ID", snap.Failure.Detail)
		s.Equal(officialmodels.StatusRejected, snap.ProfileStatus)
		assertClaimHeld()
	})

	testutil.When(t, "the official retries with a website token", func(t *testing.T) {
		req, err := s.service.Start(s.at(2*time.Hour), official.ID, id.MethodWebsiteToken)
		s.Require().NoError(err)

		challenge, err := s.service.IssueWebsiteToken(s.at(2*time.Hour), official.ID, req.ID, "https://springfield.gov/mayor")
		s.Require().NoError(err)
		s.Equal("a1b2c3d4", challenge.Token)
		s.Equal(website.DefaultMetaName, challenge.MetaName)
		s.Equal(StateAwaitingProof, s.state(official.ID).State)

		s.fetcher.EXPECT().Fetch(gomock.Any(), "https://springfield.gov/mayor").
			Return([]byte(`<html><head><meta name="civic-verification" content="a1b2c3d4"></head></html>`), nil)
		s.Require().NoError(s.service.CheckWebsite(s.at(3*time.Hour), official.ID, req.ID))
		s.Equal(StateAwaitingReview, s.state(official.ID).State)
		s.Equal(officialmodels.StatusPending, s.profile(official.ID).VerificationStatus)

		s.Require().NoError(s.service.Decide(s.at(4*time.Hour), reviewer, req.ID, models.OutcomeApproved, ""))
	})

	testutil.Then(t, "the office stayed claimed by the same official throughout", func(t *testing.T) {
		assertClaimHeld()
		p := s.profile(official.ID)
		s.Equal(officialmodels.StatusVerified, p.VerificationStatus)
		s.Equal(id.MethodWebsiteToken, *p.VerificationMethod)

		history, err := s.service.History(s.at(0), official.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(models.StatusVerified, history[0].Status)
		s.Equal(models.StatusRejected, history[1].Status)
		s.NotContains(s.recorder.Types(), events.OfficeReleased)
	})
}

func (s *ServiceSuite) TestStartPreconditions() {
	s.Run("no office claimed", func() {
		official := s.seedOfficial("Cy Park")
		_, err := s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		s.Equal(StateIdle, s.state(official.ID).State)
	})

	s.Run("conflicting request", func() {
		official, _ := s.claimed()
		s.Equal(StateMethodSelection, s.state(official.ID).State)
		_, err := s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
		s.Require().NoError(err)

		_, err = s.service.Start(s.at(0), official.ID, id.MethodDocumentUpload)
		s.True(dErrors.HasCode(err, dErrors.CodeConflictingRequest))
	})

	s.Run("invalid method", func() {
		official, _ := s.claimed()
		_, err := s.service.Start(s.at(0), official.ID, "fax")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown official", func() {
		_, err := s.service.Start(s.at(0), id.NewOfficialID(), id.MethodGovernmentEmail)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestForeignRequestReadsAsNotFound() {
	owner, _ := s.claimed()
	other, _ := s.claimed()
	req, err := s.service.Start(s.at(0), owner.ID, id.MethodGovernmentEmail)
	s.Require().NoError(err)

	_, err = s.service.SendCode(s.at(0), other.ID, req.ID, "x@senate.ca.gov")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestCancelFreesTheOfficialToRestart() {
	official, office := s.claimed()
	req, err := s.service.Start(s.at(0), official.ID, id.MethodDocumentUpload)
	s.Require().NoError(err)

	s.Require().NoError(s.service.Cancel(s.at(time.Minute), official.ID, req.ID))
	s.Equal(StateError, s.state(official.ID).State)
	s.Equal(officialmodels.StatusExpired, s.profile(official.ID).VerificationStatus)
	s.True(dErrors.HasCode(s.service.Cancel(s.at(time.Minute), official.ID, req.ID), dErrors.CodeConflict))

	_, err = s.service.Start(s.at(2*time.Minute), official.ID, id.MethodGovernmentEmail)
	s.NoError(err)

	got, err := s.registry.Get(s.at(0), office.ID)
	s.Require().NoError(err)
	s.True(got.IsClaimedBy(official.ID))
}

func (s *ServiceSuite) TestReleaseClaimCancelsActiveRequest() {
	official, office := s.claimed()
	req, err := s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
	s.Require().NoError(err)

	s.Require().NoError(s.service.ReleaseClaim(s.at(time.Minute), official.ID))

	stored, err := s.requests.FindByID(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)

	got, err := s.registry.Get(s.at(0), office.ID)
	s.Require().NoError(err)
	s.True(got.IsAvailable())
	s.Equal(StateIdle, s.state(official.ID).State)

	s.True(dErrors.HasCode(s.service.ReleaseClaim(s.at(0), official.ID), dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestCodeAfterOfficeReleasedDoesNotVerify() {
	official, office := s.claimed()
	req, err := s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
	s.Require().NoError(err)
	_, err = s.service.SendCode(s.at(0), official.ID, req.ID, "ada@springfield.gov")
	s.Require().NoError(err)

	// the claim goes away behind the flow's back
	s.Require().NoError(s.registry.Release(s.at(time.Minute), office.ID))

	err = s.service.SubmitCode(s.at(2*time.Minute), official.ID, req.ID, s.lastSent())
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "got %v", err)

	s.NotEqual(officialmodels.StatusVerified, s.profile(official.ID).VerificationStatus)
	stored, err := s.requests.FindByID(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
	s.Contains(s.recorder.Types(), events.RequestExpired)
	s.NotContains(s.recorder.Types(), events.CodeVerified)
}

func (s *ServiceSuite) TestApprovalAfterOfficeChangedHandsDoesNotVerify() {
	official, office := s.claimed()
	req, err := s.service.Start(s.at(0), official.ID, id.MethodDocumentUpload)
	s.Require().NoError(err)
	s.Require().NoError(s.service.SubmitDocuments(s.at(time.Minute), official.ID, req.ID,
		[]string{"https://evidence.example/id.jpg"}, []string{"government_id"}))

	s.Require().NoError(s.registry.Release(s.at(time.Hour), office.ID))
	rival := s.seedOfficial("Ben Ortiz")
	s.Require().NoError(s.registry.Claim(s.at(time.Hour), office.ID, rival.ID))

	err = s.service.Decide(s.at(2*time.Hour), id.NewReviewerID(), req.ID, models.OutcomeApproved, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "got %v", err)

	s.NotEqual(officialmodels.StatusVerified, s.profile(official.ID).VerificationStatus)
	stored, err := s.requests.FindByID(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)

	got, err := s.registry.Get(s.at(0), office.ID)
	s.Require().NoError(err)
	s.True(got.IsClaimedBy(rival.ID))
}

func (s *ServiceSuite) TestStartRacingReleaseClaimLeavesNoOrphanRequest() {
	for i := 0; i < 25; i++ {
		official, office := s.claimed()

		var wg sync.WaitGroup
		start := make(chan struct{})
		var startErr, releaseErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, startErr = s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
		}()
		go func() {
			defer wg.Done()
			<-start
			releaseErr = s.service.ReleaseClaim(s.at(0), official.ID)
		}()
		close(start)
		wg.Wait()

		s.Require().NoError(releaseErr)
		if startErr != nil {
			s.True(dErrors.HasCode(startErr, dErrors.CodeBadRequest), "got %v", startErr)
		}
		_, err := s.requests.FindActiveByOfficial(context.Background(), official.ID)
		s.ErrorIs(err, sentinel.ErrNotFound, "a request outlived the claim on %s", office.ID)
	}
}

func (s *ServiceSuite) TestExpire() {
	official, _ := s.claimed()
	req, err := s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
	s.Require().NoError(err)

	expired, err := s.service.Expire(s.at(time.Hour), req.ID, s.now.Add(-time.Minute))
	s.Require().NoError(err)
	s.False(expired, "touched after the cutoff")

	expired, err = s.service.Expire(s.at(25*time.Hour), req.ID, s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.True(expired)
	s.Equal(officialmodels.StatusExpired, s.profile(official.ID).VerificationStatus)
	s.Contains(s.recorder.Types(), events.RequestExpired)

	expired, err = s.service.Expire(s.at(26*time.Hour), req.ID, s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.False(expired, "already terminal")
}

func (s *ServiceSuite) TestResendReportsCooldownWithoutBlocking() {
	official, _ := s.claimed()
	req, err := s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
	s.Require().NoError(err)

	_, err = s.service.ResendCode(s.at(0), official.ID, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest), "nothing to resend yet")

	_, err = s.service.SendCode(s.at(0), official.ID, req.ID, "ada@springfield.gov")
	s.Require().NoError(err)
	snap := s.state(official.ID)
	s.Require().NotNil(snap.ResendAvailableAt)
	s.Equal(s.now.Add(time.Minute), *snap.ResendAvailableAt)

	delivery, err := s.service.ResendCode(s.at(10*time.Second), official.ID, req.ID)
	s.Require().NoError(err, "the cooldown is advisory")
	s.Equal(s.now.Add(70*time.Second), delivery.ResendAvailableAt)
	s.Equal("ada@springfield.gov", delivery.Target)
}

func (s *ServiceSuite) TestVerifiedOfficialCannotStartAgain() {
	official, _ := s.claimed()
	req, err := s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
	s.Require().NoError(err)
	_, err = s.service.SendCode(s.at(0), official.ID, req.ID, "ada@springfield.gov")
	s.Require().NoError(err)
	s.Require().NoError(s.service.SubmitCode(s.at(time.Minute), official.ID, req.ID, s.lastSent()))

	_, err = s.service.Start(s.at(time.Hour), official.ID, id.MethodWebsiteToken)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestOperationsAreCounted() {
	official, _ := s.claimed()
	req, err := s.service.Start(s.at(0), official.ID, id.MethodGovernmentEmail)
	s.Require().NoError(err)
	_ = s.service.SubmitCode(s.at(0), official.ID, req.ID, "000000")

	s.Equal(1.0, promtest.ToFloat64(s.metrics.Operations.WithLabelValues("start", "ok")))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Operations.WithLabelValues("submit_code", "invalid_code")))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Started.WithLabelValues("government_email")))
}
