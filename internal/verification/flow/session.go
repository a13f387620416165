// Package flow holds the per-client pieces of a verification flow that run
// in the background: the resend countdown and the office search debouncer.
// A Session owns both and tears them down together.
package flow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"civic/internal/offices/search"
)

const DefaultTick = time.Second

// Tick is one countdown step. Remaining is zero on the final tick, when a
// resend becomes available.
type Tick struct {
	Remaining time.Duration `json:"remaining"`
	ResendAt  time.Time     `json:"resend_at"`
}

type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	debouncer   *search.Debouncer
	searchDelay time.Duration
	tick        time.Duration
	now         func() time.Time

	mu        sync.Mutex
	countdown context.CancelFunc
	seq       uint64
	closed    bool
	ticks     chan Tick
}

type Option func(*Session)

func WithTick(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tick = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithSearchDelay overrides search.DefaultDelay.
func WithSearchDelay(d time.Duration) Option {
	return func(s *Session) {
		s.searchDelay = d
	}
}

// NewSession starts a session bound to ctx. Cancelling ctx stops background
// work but Close must still be called to wait for it.
func NewSession(ctx context.Context, searchFn search.SearchFunc, opts ...Option) *Session {
	s := &Session{
		tick:  DefaultTick,
		now:   time.Now,
		ticks: make(chan Tick, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, s.ctx = errgroup.WithContext(ctx)
	s.debouncer = search.NewDebouncer(searchFn, s.searchDelay)
	return s
}

// Search submits a keystroke to the debouncer.
func (s *Session) Search(query string) {
	s.debouncer.Submit(s.ctx, query)
}

func (s *Session) SearchResults() <-chan search.Result {
	return s.debouncer.Results()
}

// Ticks yields countdown steps. Only the latest unread tick is kept. The
// channel is closed by Close.
func (s *Session) Ticks() <-chan Tick {
	return s.ticks
}

// StartCountdown replaces any running countdown with one ending at
// resendAt. A resendAt in the past yields a single zero tick.
func (s *Session) StartCountdown(resendAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.countdown != nil {
		s.countdown()
	}
	s.seq++
	seq := s.seq
	ctx, cancel := context.WithCancel(s.ctx)
	s.countdown = cancel

	s.group.Go(func() error {
		s.runCountdown(ctx, seq, resendAt)
		return nil
	})
}

func (s *Session) runCountdown(ctx context.Context, seq uint64, resendAt time.Time) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		remaining := resendAt.Sub(s.now())
		if remaining < 0 {
			remaining = 0
		}
		if !s.emit(seq, Tick{Remaining: remaining.Round(time.Second), ResendAt: resendAt}) || remaining == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// emit delivers t unless the countdown was superseded or the session closed.
func (s *Session) emit(seq uint64, t Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq != s.seq {
		return false
	}
	select {
	case <-s.ticks:
	default:
	}
	s.ticks <- t
	return true
}

// Done is closed when the session's context ends.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close cancels the countdown and the pending search, waits for both and
// closes the output channels. Nothing is delivered after Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.debouncer.Close()
	err := s.group.Wait()
	close(s.ticks)
	return err
}
