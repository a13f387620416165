// Package access derives dashboard access and public visibility from an
// official's verification status. It only reads.
package access

import (
	"context"
	"errors"

	"civic/internal/officials/models"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/sentinel"
)

type Level string

const (
	// LevelOnboarding: no proof yet, or the last attempt failed. The official
	// can search, claim and start verification.
	LevelOnboarding Level = "onboarding"
	// LevelUnderReview: proof submitted and waiting for a decision.
	LevelUnderReview Level = "under_review"
	// LevelFull: verified; dashboard and posting unlocked.
	LevelFull Level = "full"
)

type Decision struct {
	OfficialID      id.OfficialID             `json:"official_id"`
	Status          models.VerificationStatus `json:"verification_status"`
	Level           Level                     `json:"access_level"`
	PubliclyVisible bool                      `json:"publicly_visible"`
	OfficeID        *id.OfficeID              `json:"office_id,omitempty"`
}

type ProfileReader interface {
	FindByID(ctx context.Context, officialID id.OfficialID) (*models.OfficialProfile, error)
}

type Gate struct {
	profiles ProfileReader
}

func New(profiles ProfileReader) *Gate {
	return &Gate{profiles: profiles}
}

func (g *Gate) Decide(ctx context.Context, officialID id.OfficialID) (*Decision, error) {
	p, err := g.profiles.FindByID(ctx, officialID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "official not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load official")
	}
	return &Decision{
		OfficialID:      p.ID,
		Status:          p.VerificationStatus,
		Level:           LevelFor(p.VerificationStatus),
		PubliclyVisible: p.IsVerified(),
		OfficeID:        p.OfficeID,
	}, nil
}

// IsPubliclyVisible is the feed and profile visibility gate.
func (g *Gate) IsPubliclyVisible(ctx context.Context, officialID id.OfficialID) (bool, error) {
	d, err := g.Decide(ctx, officialID)
	if err != nil {
		return false, err
	}
	return d.PubliclyVisible, nil
}

func LevelFor(status models.VerificationStatus) Level {
	switch status {
	case models.StatusVerified:
		return LevelFull
	case models.StatusPending:
		return LevelUnderReview
	default:
		return LevelOnboarding
	}
}
