// Package cooldown tracks when a verification code may be resent. The
// cooldown is advisory: it is reported to clients and never blocks a resend.
package cooldown

import (
	"context"
	"time"

	id "civic/pkg/domain"
)

const DefaultWindow = 60 * time.Second

// Store persists the instant a resend becomes available, per request.
type Store interface {
	Set(ctx context.Context, key string, availableAt time.Time, ttl time.Duration) error
	Get(ctx context.Context, key string) (time.Time, bool, error)
}

type Tracker struct {
	store  Store
	window time.Duration
}

func NewTracker(store Store, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{store: store, window: window}
}

func (t *Tracker) Window() time.Duration { return t.window }

// Mark records a send at now and returns when the next resend is available.
func (t *Tracker) Mark(ctx context.Context, requestID id.RequestID, now time.Time) (time.Time, error) {
	availableAt := now.Add(t.window)
	if err := t.store.Set(ctx, key(requestID), availableAt, t.window); err != nil {
		return availableAt, err
	}
	return availableAt, nil
}

// AvailableAt reports when a resend is available. Unknown requests and
// elapsed cooldowns report now.
func (t *Tracker) AvailableAt(ctx context.Context, requestID id.RequestID, now time.Time) (time.Time, error) {
	at, ok, err := t.store.Get(ctx, key(requestID))
	if err != nil {
		return now, err
	}
	if !ok || !at.After(now) {
		return now, nil
	}
	return at, nil
}

func key(requestID id.RequestID) string {
	return "cooldown:resend:" + requestID.String()
}
