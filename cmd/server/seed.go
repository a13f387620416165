package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jwttoken "civic/internal/jwt_token"
	officialmodels "civic/internal/officials/models"
	officestore "civic/internal/offices/store"
	"civic/internal/platform/config"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
	"civic/pkg/requestcontext"
)

const devTokenTTL = 24 * time.Hour

// Stable development principals so tokens survive restarts.
var (
	demoOfficialID = id.OfficialID(uuid.MustParse("0b7f6d0e-3a51-4c52-8f3e-2d1b9a4c7e01"))
	demoReviewerID = id.ReviewerID(uuid.MustParse("0b7f6d0e-3a51-4c52-8f3e-2d1b9a4c7e02"))
)

// seedDemo loads the demo office catalogue and a development official, then
// logs bearer tokens for both roles.
func seedDemo(ctx context.Context, app *application, cfg config.Server, log *slog.Logger) error {
	now := time.Now().UTC()
	added, err := officestore.Seed(ctx, app.offices, officestore.DemoOffices, now)
	if err != nil {
		return fmt.Errorf("offices: %w", err)
	}

	profile, err := officialmodels.NewOfficialProfile(demoOfficialID, "Demo Official", now)
	if err != nil {
		return err
	}
	if err := app.officials.Save(ctx, profile); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return fmt.Errorf("officials: %w", err)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	officialToken, err := jwtService.GenerateAccessToken(uuid.UUID(demoOfficialID), requestcontext.RoleOfficial, devTokenTTL)
	if err != nil {
		return err
	}
	reviewerToken, err := jwtService.GenerateAccessToken(uuid.UUID(demoReviewerID), requestcontext.RoleReviewer, devTokenTTL)
	if err != nil {
		return err
	}

	log.Info("demo data seeded",
		"offices_added", added,
		"official_id", demoOfficialID.String(),
		"reviewer_id", demoReviewerID.String(),
	)
	log.Debug("development tokens",
		"official_token", officialToken,
		"reviewer_token", reviewerToken,
	)
	return nil
}
