package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civic/pkg/domain"
)

func TestTracker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	tracker := NewTracker(NewInMemory(), 30*time.Second)
	requestID := id.NewRequestID()

	t.Run("unknown request is available now", func(t *testing.T) {
		at, err := tracker.AvailableAt(ctx, requestID, now)
		require.NoError(t, err)
		assert.Equal(t, now, at)
	})

	t.Run("mark starts the window", func(t *testing.T) {
		next, err := tracker.Mark(ctx, requestID, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(30*time.Second), next)

		at, err := tracker.AvailableAt(ctx, requestID, now.Add(10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, next, at)
	})

	t.Run("elapsed window reports now", func(t *testing.T) {
		later := now.Add(time.Minute)
		at, err := tracker.AvailableAt(ctx, requestID, later)
		require.NoError(t, err)
		assert.Equal(t, later, at)
	})

	t.Run("default window", func(t *testing.T) {
		assert.Equal(t, DefaultWindow, NewTracker(NewInMemory(), 0).Window())
	})
}

func TestInMemoryPurgesElapsedEntries(t *testing.T) {
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "old", now.Add(-time.Second), time.Second))
	require.NoError(t, s.Set(ctx, "fresh", now.Add(time.Second), time.Second))

	_, ok, _ := s.Get(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "fresh")
	assert.True(t, ok)
}
