// Package service is the verification orchestrator. It drives one official
// through exactly one method at a time, delegating each step to the
// method's component and publishing events after every authoritative write.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"civic/internal/events"
	officemodels "civic/internal/offices/models"
	officialmodels "civic/internal/officials/models"
	"civic/internal/verification/emailcode"
	"civic/internal/verification/metrics"
	"civic/internal/verification/models"
	"civic/pkg/attrs"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/sentinel"
	"civic/pkg/requestcontext"
)

const tracerName = "civic/internal/verification/service"

type RequestStore interface {
	CreateIfNoActive(ctx context.Context, r *models.Request) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	FindActiveByOfficial(ctx context.Context, officialID id.OfficialID) (*models.Request, error)
	FindLatestByOfficial(ctx context.Context, officialID id.OfficialID) (*models.Request, error)
	ListByOfficial(ctx context.Context, officialID id.OfficialID) ([]*models.Request, error)
	Update(ctx context.Context, r *models.Request) error
}

type OfficialReader interface {
	FindByID(ctx context.Context, officialID id.OfficialID) (*officialmodels.OfficialProfile, error)
}

// OfficeRegistry is the claim registry as seen by the flow.
type OfficeRegistry interface {
	Get(ctx context.Context, officeID id.OfficeID) (*officemodels.GovernmentOffice, error)
	Release(ctx context.Context, officeID id.OfficeID) error
}

type CodeIssuer interface {
	Issue(ctx context.Context, req *models.Request, target string) (emailcode.Issued, error)
	Verify(ctx context.Context, req *models.Request, submitted string) error
}

type DocumentQueue interface {
	Submit(ctx context.Context, req *models.Request, refs, types []string) error
	Decide(ctx context.Context, req *models.Request, outcome models.Outcome, notes string, reviewer id.ReviewerID) error
}

type WebsiteVerifier interface {
	IssueToken(ctx context.Context, req *models.Request, targetURL string) (string, error)
	Check(ctx context.Context, req *models.Request) error
	MetaName() string
}

type Projector interface {
	Apply(ctx context.Context, officialID id.OfficialID, outcome officialmodels.VerificationStatus, method id.VerificationMethod) error
}

// Cooldown reports when a code may be resent. Advisory only.
type Cooldown interface {
	Mark(ctx context.Context, requestID id.RequestID, now time.Time) (time.Time, error)
	AvailableAt(ctx context.Context, requestID id.RequestID, now time.Time) (time.Time, error)
}

// Methods bundles the strategy for each verification method.
type Methods struct {
	Codes     CodeIssuer
	Documents DocumentQueue
	Website   WebsiteVerifier
}

// CodeDelivery confirms a code was issued. It never carries the code.
type CodeDelivery struct {
	Target            string    `json:"target"`
	ExpiresAt         time.Time `json:"expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
}

// WebsiteChallenge tells the official what to publish and where.
type WebsiteChallenge struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	MetaName string `json:"meta_name"`
}

type Service struct {
	requests  RequestStore
	officials OfficialReader
	registry  OfficeRegistry
	methods   Methods
	projector Projector
	cooldown  Cooldown
	locks     *keyedLocks
	claims    *keyedLocks
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCooldown(c Cooldown) Option {
	return func(s *Service) {
		s.cooldown = c
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithLockTimeout bounds how long one operation may wait for and hold its
// request or claim lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.locks.timeout = d
		s.claims.timeout = d
	}
}

func New(requests RequestStore, officials OfficialReader, registry OfficeRegistry, methods Methods, projector Projector, opts ...Option) *Service {
	s := &Service{
		requests:  requests,
		officials: officials,
		registry:  registry,
		methods:   methods,
		projector: projector,
		locks:     newKeyedLocks(),
		claims:    newKeyedLocks(),
		publisher: events.Nop{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a request for the official's claimed office. It fails with
// CodeConflictingRequest while another request is still pending. It runs
// under the official's claim lock so it cannot interleave with ReleaseClaim.
func (s *Service) Start(ctx context.Context, officialID id.OfficialID, method id.VerificationMethod) (req *models.Request, err error) {
	ctx, span := s.startSpan(ctx, "Start", officialID, attribute.String("verification.method", method.String()))
	defer func() { s.finish(span, "start", err) }()

	if !method.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid verification method")
	}
	err = s.claims.run(ctx, officialID.String(), func(ctx context.Context) error {
		req, err = s.start(ctx, officialID, method)
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Service) start(ctx context.Context, officialID id.OfficialID, method id.VerificationMethod) (*models.Request, error) {
	profile, err := s.loadOfficial(ctx, officialID)
	if err != nil {
		return nil, err
	}
	if profile.IsVerified() {
		return nil, dErrors.New(dErrors.CodeConflict, "official is already verified")
	}
	if profile.OfficeID == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "claim an office before verifying")
	}
	office, err := s.registry.Get(ctx, *profile.OfficeID)
	if err != nil {
		return nil, err
	}
	if !office.IsClaimedBy(officialID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "office is not claimed by this official")
	}

	req, err := models.NewRequest(officialID, office.ID, method, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.requests.CreateIfNoActive(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflictingRequest, "another verification request is still pending")
		}
		return nil, storeError(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementStarted(method.String())
	}
	s.logAudit(ctx, string(events.RequestStarted),
		"verification_request_id", req.ID,
		"official_id", officialID,
		"office_id", office.ID,
		"method", method,
	)
	s.publish(ctx, events.RequestStarted, req, "")
	return req, nil
}

// SendCode issues a code to email for a government_email request.
func (s *Service) SendCode(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, email string) (delivery *CodeDelivery, err error) {
	ctx, span := s.startSpan(ctx, "SendCode", officialID)
	defer func() { s.finish(span, "send_code", err) }()

	err = s.withRequest(ctx, officialID, requestID, func(ctx context.Context, req *models.Request) error {
		delivery, err = s.issueCode(ctx, req, email)
		return err
	})
	return delivery, err
}

// ResendCode re-issues to the previous address, invalidating the previous
// code. The cooldown is reported, not enforced.
func (s *Service) ResendCode(ctx context.Context, officialID id.OfficialID, requestID id.RequestID) (delivery *CodeDelivery, err error) {
	ctx, span := s.startSpan(ctx, "ResendCode", officialID)
	defer func() { s.finish(span, "resend_code", err) }()

	err = s.withRequest(ctx, officialID, requestID, func(ctx context.Context, req *models.Request) error {
		if req.Email != nil && req.Email.Target == "" {
			return dErrors.New(dErrors.CodeBadRequest, "no code has been sent yet")
		}
		if s.cooldown != nil {
			now := requestcontext.Now(ctx)
			if at, cerr := s.cooldown.AvailableAt(ctx, req.ID, now); cerr == nil && at.After(now) && s.logger != nil {
				s.logger.InfoContext(ctx, "resend within cooldown",
					"verification_request_id", req.ID,
					"available_at", at,
				)
			}
		}
		delivery, err = s.issueCode(ctx, req, "")
		return err
	})
	return delivery, err
}

func (s *Service) issueCode(ctx context.Context, req *models.Request, email string) (*CodeDelivery, error) {
	issued, err := s.methods.Codes.Issue(ctx, req, email)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	delivery := &CodeDelivery{Target: issued.Target, ExpiresAt: issued.ExpiresAt, ResendAvailableAt: now}
	if s.cooldown != nil {
		at, err := s.cooldown.Mark(ctx, req.ID, now)
		if err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to record resend cooldown", "verification_request_id", req.ID, "error", err)
		}
		delivery.ResendAvailableAt = at
	}
	s.publish(ctx, events.CodeIssued, req, "")
	return delivery, nil
}

// SubmitCode checks a code. Success verifies the official through the
// projector; failures are invalid_code or expired_code.
func (s *Service) SubmitCode(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, code string) (err error) {
	ctx, span := s.startSpan(ctx, "SubmitCode", officialID)
	defer func() { s.finish(span, "submit_code", err) }()

	return s.withClaim(ctx, officialID, requestID, func(ctx context.Context, req *models.Request) error {
		verr := s.methods.Codes.Verify(ctx, req, code)
		switch {
		case verr == nil:
			s.recordOutcome(req)
			s.publish(ctx, events.CodeVerified, req, "")
		case dErrors.HasCode(verr, dErrors.CodeInvalidCode), dErrors.HasCode(verr, dErrors.CodeExpiredCode):
			s.publish(ctx, events.CodeRejected, req, string(dErrors.CodeOf(verr)))
			if req.IsTerminal() {
				s.recordOutcome(req)
			}
		}
		return verr
	})
}

// SubmitDocuments records evidence for a document_upload request.
func (s *Service) SubmitDocuments(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, refs, types []string) (err error) {
	ctx, span := s.startSpan(ctx, "SubmitDocuments", officialID, attribute.Int("verification.documents", len(refs)))
	defer func() { s.finish(span, "submit_documents", err) }()

	return s.withRequest(ctx, officialID, requestID, func(ctx context.Context, req *models.Request) error {
		if err := s.methods.Documents.Submit(ctx, req, refs, types); err != nil {
			return err
		}
		s.publish(ctx, events.DocumentsSubmitted, req, "")
		return nil
	})
}

// IssueWebsiteToken issues the token the official publishes on targetURL.
func (s *Service) IssueWebsiteToken(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, targetURL string) (challenge *WebsiteChallenge, err error) {
	ctx, span := s.startSpan(ctx, "IssueWebsiteToken", officialID)
	defer func() { s.finish(span, "issue_website_token", err) }()

	err = s.withRequest(ctx, officialID, requestID, func(ctx context.Context, req *models.Request) error {
		token, err := s.methods.Website.IssueToken(ctx, req, targetURL)
		if err != nil {
			return err
		}
		challenge = &WebsiteChallenge{Token: token, URL: req.Website.URL, MetaName: s.methods.Website.MetaName()}
		s.publish(ctx, events.WebsiteTokenIssued, req, "")
		return nil
	})
	return challenge, err
}

// CheckWebsite fetches the page and confirms the token. A confirmed proof
// waits for a reviewer; fetch failures are retryable.
func (s *Service) CheckWebsite(ctx context.Context, officialID id.OfficialID, requestID id.RequestID) (err error) {
	ctx, span := s.startSpan(ctx, "CheckWebsite", officialID)
	defer func() { s.finish(span, "check_website", err) }()

	return s.withRequest(ctx, officialID, requestID, func(ctx context.Context, req *models.Request) error {
		if s.metrics != nil {
			defer s.metrics.ObserveWebsiteCheck(time.Now())
		}
		cerr := s.methods.Website.Check(ctx, req)
		switch {
		case cerr == nil:
			s.publish(ctx, events.WebsiteChecked, req, "confirmed")
		case dErrors.HasCode(cerr, dErrors.CodeTokenNotFound),
			dErrors.HasCode(cerr, dErrors.CodeTokenMismatch),
			dErrors.HasCode(cerr, dErrors.CodeFetchFailed):
			s.publish(ctx, events.WebsiteChecked, req, string(dErrors.CodeOf(cerr)))
		}
		return cerr
	})
}

// Decide is the reviewer path for document requests and confirmed website
// proofs.
func (s *Service) Decide(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID, outcome models.Outcome, notes string) (err error) {
	ctx, span := s.tracer.Start(ctx, "verification.Decide", trace.WithAttributes(
		attribute.String("verification.request_id", requestID.String()),
		attribute.String("verification.outcome", string(outcome)),
	))
	defer func() { s.finish(span, "decide", err) }()

	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	decide := func(ctx context.Context, req *models.Request) error {
		if err := s.methods.Documents.Decide(ctx, req, outcome, notes, reviewerID); err != nil {
			return err
		}
		s.recordOutcome(req)
		s.publish(ctx, events.ReviewDecided, req, string(outcome))
		return nil
	}
	if outcome != models.OutcomeApproved {
		return s.locks.run(ctx, requestID.String(), func(ctx context.Context) error {
			req, err := s.loadRequest(ctx, requestID)
			if err != nil {
				return err
			}
			return decide(ctx, req)
		})
	}
	return s.withClaim(ctx, req.OfficialID, requestID, decide)
}

// Cancel abandons a pending request so the official can start over. The
// office claim is untouched.
func (s *Service) Cancel(ctx context.Context, officialID id.OfficialID, requestID id.RequestID) (err error) {
	ctx, span := s.startSpan(ctx, "Cancel", officialID)
	defer func() { s.finish(span, "cancel", err) }()

	return s.withRequest(ctx, officialID, requestID, func(ctx context.Context, req *models.Request) error {
		if err := s.expire(ctx, req); err != nil {
			return err
		}
		s.logAudit(ctx, string(events.RequestCancelled),
			"verification_request_id", req.ID,
			"official_id", officialID,
		)
		s.publish(ctx, events.RequestCancelled, req, "")
		return nil
	})
}

// Expire marks a stale request expired. It reports false when the request
// has moved on since it was listed: it is terminal, waiting on a reviewer, or
// was touched after cutoff.
func (s *Service) Expire(ctx context.Context, requestID id.RequestID, cutoff time.Time) (expired bool, err error) {
	err = s.locks.run(ctx, requestID.String(), func(ctx context.Context) error {
		req, err := s.loadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.IsTerminal() || req.AwaitingReview() || !req.UpdatedAt.Before(cutoff) {
			return nil
		}
		if err := s.expire(ctx, req); err != nil {
			return err
		}
		expired = true
		s.logAudit(ctx, string(events.RequestExpired),
			"verification_request_id", req.ID,
			"official_id", req.OfficialID,
		)
		s.publish(ctx, events.RequestExpired, req, "")
		return nil
	})
	return expired, err
}

func (s *Service) expire(ctx context.Context, req *models.Request) error {
	if err := req.EnsurePending(); err != nil {
		return err
	}
	req.MarkExpired(requestcontext.Now(ctx))
	if err := s.requests.Update(ctx, req); err != nil {
		return storeError(err)
	}
	if err := s.projector.Apply(ctx, req.OfficialID, officialmodels.StatusExpired, req.Method); err != nil {
		return err
	}
	s.recordOutcome(req)
	return nil
}

// State returns the resumable flow view for an official.
func (s *Service) State(ctx context.Context, officialID id.OfficialID) (*Snapshot, error) {
	profile, err := s.loadOfficial(ctx, officialID)
	if err != nil {
		return nil, err
	}
	latest, err := s.requests.FindLatestByOfficial(ctx, officialID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, storeError(err)
	}

	snap := &Snapshot{
		State:         deriveState(profile, latest),
		OfficeID:      profile.OfficeID,
		ProfileStatus: profile.VerificationStatus,
		Request:       latest,
	}
	if snap.State == StateError && latest != nil {
		snap.Failure = terminalFailure(latest)
	}
	if snap.State == StateAwaitingCode && s.cooldown != nil {
		now := requestcontext.Now(ctx)
		at, err := s.cooldown.AvailableAt(ctx, latest.ID, now)
		if err == nil {
			snap.ResendAvailableAt = &at
		}
	}
	return snap, nil
}

// History lists the official's requests, newest first.
func (s *Service) History(ctx context.Context, officialID id.OfficialID) ([]*models.Request, error) {
	reqs, err := s.requests.ListByOfficial(ctx, officialID)
	if err != nil {
		return nil, storeError(err)
	}
	return reqs, nil
}

// ReleaseClaim relinquishes the official's office. A pending request is
// cancelled first so no request outlives its claim.
func (s *Service) ReleaseClaim(ctx context.Context, officialID id.OfficialID) (err error) {
	ctx, span := s.startSpan(ctx, "ReleaseClaim", officialID)
	defer func() { s.finish(span, "release_claim", err) }()

	return s.claims.run(ctx, officialID.String(), func(ctx context.Context) error {
		profile, err := s.loadOfficial(ctx, officialID)
		if err != nil {
			return err
		}
		if profile.OfficeID == nil {
			return dErrors.New(dErrors.CodeBadRequest, "no office is claimed")
		}

		active, err := s.requests.FindActiveByOfficial(ctx, officialID)
		switch {
		case err == nil:
			if err := s.Cancel(ctx, officialID, active.ID); err != nil && !dErrors.HasCode(err, dErrors.CodeConflict) {
				return err
			}
		case !errors.Is(err, sentinel.ErrNotFound):
			return storeError(err)
		}
		return s.registry.Release(ctx, *profile.OfficeID)
	})
}

// withRequest serializes fn on requestID and hands it the request after
// checking it belongs to officialID. Foreign requests read as not found.
func (s *Service) withRequest(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, fn func(ctx context.Context, req *models.Request) error) error {
	return s.locks.run(ctx, requestID.String(), func(ctx context.Context) error {
		req, err := s.loadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.OfficialID != officialID {
			return dErrors.New(dErrors.CodeNotFound, "verification request not found")
		}
		return fn(ctx, req)
	})
}

// withClaim is withRequest for transitions that can verify the official. It
// holds the official's claim lock around the request lock and refuses to go
// on once the request's office is no longer claimed by the official; such a
// request is expired.
func (s *Service) withClaim(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, fn func(ctx context.Context, req *models.Request) error) error {
	return s.claims.run(ctx, officialID.String(), func(ctx context.Context) error {
		return s.withRequest(ctx, officialID, requestID, func(ctx context.Context, req *models.Request) error {
			if err := s.ensureClaimed(ctx, req); err != nil {
				return err
			}
			return fn(ctx, req)
		})
	})
}

func (s *Service) ensureClaimed(ctx context.Context, req *models.Request) error {
	if req.IsTerminal() {
		return nil
	}
	office, err := s.registry.Get(ctx, req.OfficeID)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return err
	}
	if office != nil && office.IsClaimedBy(req.OfficialID) {
		return nil
	}

	if err := s.expire(ctx, req); err != nil {
		return err
	}
	s.logAudit(ctx, string(events.RequestExpired),
		"verification_request_id", req.ID,
		"official_id", req.OfficialID,
		"reason", "office_released",
	)
	s.publish(ctx, events.RequestExpired, req, "office_released")
	return dErrors.New(dErrors.CodeForbidden, "office is no longer claimed by this official")
}

func (s *Service) loadRequest(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, storeError(err)
	}
	return req, nil
}

func (s *Service) loadOfficial(ctx context.Context, officialID id.OfficialID) (*officialmodels.OfficialProfile, error) {
	p, err := s.officials.FindByID(ctx, officialID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "official not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load official")
	}
	return p, nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "verification request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, "verification request is no longer pending")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "verification store failure")
	}
}

func (s *Service) publish(ctx context.Context, typ events.Type, req *models.Request, detail string) {
	s.publisher.Publish(ctx, events.Event{
		Type:       typ,
		OfficialID: req.OfficialID.String(),
		OfficeID:   req.OfficeID.String(),
		RequestID:  req.ID.String(),
		Method:     req.Method.String(),
		Status:     req.Status.String(),
		Detail:     detail,
	})
}

func (s *Service) recordOutcome(req *models.Request) {
	if s.metrics != nil && req.IsTerminal() {
		s.metrics.IncrementOutcome(req.Method.String(), req.Status.String())
	}
}

func (s *Service) startSpan(ctx context.Context, op string, officialID id.OfficialID, kv ...attribute.KeyValue) (context.Context, trace.Span) {
	kv = append(kv, attribute.String("official.id", officialID.String()))
	return s.tracer.Start(ctx, "verification."+op, trace.WithAttributes(kv...))
}

func (s *Service) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	span.End()
	if s.metrics != nil {
		s.metrics.IncrementOperation(op, result)
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)

	// Mirror the audit line onto the active span so traces carry the trail.
	trace.SpanFromContext(ctx).AddEvent(event, trace.WithAttributes(
		attribute.String("official.id", attrs.ExtractString(attributes, "official_id")),
		attribute.String("verification.request_id", attrs.ExtractString(attributes, "verification_request_id")),
	))
}
