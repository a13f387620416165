// Package service is the office claim registry: the only component that sets
// or clears an office's claimant.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"civic/internal/events"
	"civic/internal/offices/metrics"
	"civic/internal/offices/models"
	officialmodels "civic/internal/officials/models"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/sentinel"
	"civic/pkg/platform/strings"
	"civic/pkg/platform/tx"
	"civic/pkg/requestcontext"
)

// errOfficialNotFound separates a missing official from a missing office
// inside the claim unit of work.
var errOfficialNotFound = errors.New("official not found")

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

type OfficeStore interface {
	FindByID(ctx context.Context, officeID id.OfficeID) (*models.GovernmentOffice, error)
	ClaimIfAvailable(ctx context.Context, officeID id.OfficeID, officialID id.OfficialID, now time.Time) (*models.GovernmentOffice, error)
	Release(ctx context.Context, officeID id.OfficeID, now time.Time) (*id.OfficialID, error)
	Search(ctx context.Context, terms []string, limit int) ([]*models.GovernmentOffice, error)
}

// OfficialLinker maintains the official side of a claim.
type OfficialLinker interface {
	FindByID(ctx context.Context, officialID id.OfficialID) (*officialmodels.OfficialProfile, error)
	LinkOffice(ctx context.Context, officialID id.OfficialID, officeID id.OfficeID, now time.Time) error
	UnlinkOffice(ctx context.Context, officialID id.OfficialID, officeID id.OfficeID, now time.Time) error
}

type Registry struct {
	offices   OfficeStore
	officials OfficialLinker
	tx        tx.Runner
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(r *Registry) {
		r.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New constructs a Registry. runner scopes the office row and the official's
// link to one unit of work.
func New(offices OfficeStore, officials OfficialLinker, runner tx.Runner, opts ...Option) *Registry {
	r := &Registry{offices: offices, officials: officials, tx: runner, publisher: events.Nop{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Claim reserves officeID for officialID and links the official to it.
// Exactly one of several concurrent claimants succeeds; the rest get
// CodeAlreadyClaimed. Claiming an office the official already holds is a
// no-op. An official holds at most one office at a time, and the profile is
// read inside the unit of work so two concurrent claims by one official
// cannot both pass that check.
func (r *Registry) Claim(ctx context.Context, officeID id.OfficeID, officialID id.OfficialID) error {
	now := requestcontext.Now(ctx)
	var claimed *models.GovernmentOffice
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		official, err := r.officials.FindByID(ctx, officialID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return errOfficialNotFound
			}
			return err
		}
		if official.HoldsOffice(officeID) {
			return nil
		}
		if official.OfficeID != nil {
			return sentinel.ErrConflict
		}
		o, err := r.offices.ClaimIfAvailable(ctx, officeID, officialID, now)
		if err != nil {
			return err
		}
		if err := r.officials.LinkOffice(ctx, officialID, officeID, now); err != nil {
			return err
		}
		claimed = o
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errOfficialNotFound):
			r.incrementClaim("not_found")
			return dErrors.New(dErrors.CodeNotFound, "official not found")
		case errors.Is(err, sentinel.ErrConflict):
			r.incrementClaim("conflict")
			return dErrors.New(dErrors.CodeConflict, "official already holds another office; release it first")
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			r.incrementClaim("already_claimed")
			return dErrors.New(dErrors.CodeAlreadyClaimed, "office is already claimed")
		case errors.Is(err, sentinel.ErrNotFound):
			r.incrementClaim("not_found")
			return dErrors.New(dErrors.CodeNotFound, "office not found")
		default:
			r.incrementClaim("error")
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim office")
		}
	}
	if claimed == nil {
		return nil
	}

	r.incrementClaim("claimed")
	r.logAudit(ctx, string(events.OfficeClaimed),
		"office_id", officeID,
		"official_id", officialID,
		"office", claimed.DisplayName(),
	)
	r.publisher.Publish(ctx, events.Event{
		Type:       events.OfficeClaimed,
		OfficialID: officialID.String(),
		OfficeID:   officeID.String(),
	})
	return nil
}

// Release clears the claim unconditionally and unlinks the former claimant.
// Verification fields on the profile are left alone.
func (r *Registry) Release(ctx context.Context, officeID id.OfficeID) error {
	now := requestcontext.Now(ctx)
	var former *id.OfficialID
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		prev, err := r.offices.Release(ctx, officeID, now)
		if err != nil {
			return err
		}
		if prev != nil {
			if err := r.officials.UnlinkOffice(ctx, *prev, officeID, now); err != nil {
				return err
			}
		}
		former = prev
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "office not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release office")
	}

	if r.metrics != nil {
		r.metrics.IncrementRelease()
	}
	e := events.Event{Type: events.OfficeReleased, OfficeID: officeID.String()}
	attrs := []any{"office_id", officeID}
	if former != nil {
		e.OfficialID = former.String()
		attrs = append(attrs, "official_id", *former)
	}
	r.logAudit(ctx, string(events.OfficeReleased), attrs...)
	r.publisher.Publish(ctx, e)
	return nil
}

func (r *Registry) IsAvailable(ctx context.Context, officeID id.OfficeID) (bool, error) {
	o, err := r.Get(ctx, officeID)
	if err != nil {
		return false, err
	}
	return o.IsAvailable(), nil
}

func (r *Registry) Get(ctx context.Context, officeID id.OfficeID) (*models.GovernmentOffice, error) {
	o, err := r.offices.FindByID(ctx, officeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "office not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load office")
	}
	return o, nil
}

// Search matches every whitespace-separated term against title,
// jurisdiction and district, case-insensitively. Unclaimed offices come first.
func (r *Registry) Search(ctx context.Context, query string, limit int) ([]*models.GovernmentOffice, error) {
	if r.metrics != nil {
		defer r.metrics.ObserveSearch(time.Now())
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	out, err := r.offices.Search(ctx, strings.Terms(query), limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, dErrors.Wrap(ctxErr, dErrors.CodeTimeout, "search cancelled")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search offices")
	}
	return out, nil
}

func (r *Registry) incrementClaim(outcome string) {
	if r.metrics != nil {
		r.metrics.IncrementClaim(outcome)
	}
}

func (r *Registry) logAudit(ctx context.Context, event string, attributes ...any) {
	if r.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	r.logger.InfoContext(ctx, event, args...)
}
