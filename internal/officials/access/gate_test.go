package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic/internal/officials/models"
	"civic/internal/officials/store"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
)

func TestLevelFor(t *testing.T) {
	cases := map[models.VerificationStatus]Level{
		models.StatusUnverified: LevelOnboarding,
		models.StatusPending:    LevelUnderReview,
		models.StatusVerified:   LevelFull,
		models.StatusRejected:   LevelOnboarding,
		models.StatusExpired:    LevelOnboarding,
	}
	for status, want := range cases {
		assert.Equal(t, want, LevelFor(status), status)
	}
}

func TestGateDecide(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	profiles := store.NewInMemory()
	gate := New(profiles)

	p, err := models.NewOfficialProfile(id.NewOfficialID(), "Ada Moreno", now)
	require.NoError(t, err)
	require.NoError(t, profiles.Save(ctx, p))

	t.Run("unverified official is not visible", func(t *testing.T) {
		visible, err := gate.IsPubliclyVisible(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, visible)
	})

	t.Run("verified official is visible with full access", func(t *testing.T) {
		_, err := p.ApplyStatus(models.StatusVerified, id.MethodWebsiteToken, now)
		require.NoError(t, err)
		require.NoError(t, profiles.UpdateVerification(ctx, p))

		d, err := gate.Decide(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, d.PubliclyVisible)
		assert.Equal(t, LevelFull, d.Level)
	})

	t.Run("unknown official", func(t *testing.T) {
		_, err := gate.Decide(ctx, id.NewOfficialID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
