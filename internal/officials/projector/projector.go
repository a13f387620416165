// Package projector is the single writer of an official's verification
// fields. Verification methods request outcomes through Apply; none of them
// touch the profile directly.
package projector

import (
	"context"
	"errors"
	"log/slog"

	"civic/internal/events"
	"civic/internal/officials/models"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/sentinel"
	"civic/pkg/requestcontext"
)

type Store interface {
	FindByID(ctx context.Context, officialID id.OfficialID) (*models.OfficialProfile, error)
	UpdateVerification(ctx context.Context, p *models.OfficialProfile) error
}

type Projector struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
}

type Option func(*Projector)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) {
		p.logger = logger
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(p *Projector) {
		p.publisher = publisher
	}
}

func New(store Store, opts ...Option) *Projector {
	p := &Projector{store: store, publisher: events.Nop{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply moves the official's profile to outcome. method is required for
// verified and ignored otherwise. Re-applying the current status is a no-op,
// so a verified profile keeps its original verified_at.
func (p *Projector) Apply(ctx context.Context, officialID id.OfficialID, outcome models.VerificationStatus, method id.VerificationMethod) error {
	profile, err := p.store.FindByID(ctx, officialID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "official not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load official")
	}
	if profile.VerificationStatus == outcome {
		return nil
	}

	previous, err := profile.ApplyStatus(outcome, method, requestcontext.Now(ctx))
	if err != nil {
		return err
	}
	if err := p.store.UpdateVerification(ctx, profile); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "official not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update verification status")
	}

	var methodStr string
	if profile.VerificationMethod != nil {
		methodStr = profile.VerificationMethod.String()
	}
	p.logAudit(ctx, string(events.ProfileStatusChanged),
		"official_id", officialID,
		"from", previous,
		"to", outcome,
		"method", methodStr,
	)
	p.publisher.Publish(ctx, events.Event{
		Type:       events.ProfileStatusChanged,
		OfficialID: officialID.String(),
		Status:     outcome.String(),
		Method:     methodStr,
		Detail:     previous.String(),
	})
	return nil
}

func (p *Projector) logAudit(ctx context.Context, event string, attributes ...any) {
	if p.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	p.logger.InfoContext(ctx, event, args...)
}
