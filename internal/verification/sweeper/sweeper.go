// Package sweeper expires verification requests nobody has touched for a
// while, so an abandoned flow does not hold the official's single pending
// slot forever.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"civic/internal/verification/metrics"
	"civic/internal/verification/models"
	id "civic/pkg/domain"
	"civic/pkg/requestcontext"
)

const (
	DefaultSchedule  = "@every 1m"
	DefaultBatchSize = 100
	sweepTimeout     = 5 * time.Minute
)

type Lister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Request, error)
}

// Expirer re-checks staleness under the request lock before expiring.
type Expirer interface {
	Expire(ctx context.Context, requestID id.RequestID, cutoff time.Time) (bool, error)
}

type Sweeper struct {
	lister   Lister
	expirer  Expirer
	ttl      time.Duration
	schedule string
	batch    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithSchedule takes a standard five-field cron expression or a descriptor
// such as "@every 30s".
func WithSchedule(schedule string) Option {
	return func(s *Sweeper) {
		if schedule != "" {
			s.schedule = schedule
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func New(lister Lister, expirer Expirer, ttl time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		lister:   lister,
		expirer:  expirer,
		ttl:      ttl,
		schedule: DefaultSchedule,
		batch:    DefaultBatchSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce expires one batch of stale requests and returns how many it
// expired. A failure on one request is logged and the rest still run.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	ctx = requestcontext.WithTime(ctx, now)
	cutoff := now.Add(-s.ttl)

	stale, err := s.lister.ListStale(ctx, cutoff, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale requests: %w", err)
	}

	expired := 0
	for _, req := range stale {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.expirer.Expire(ctx, req.ID, cutoff)
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "failed to expire request",
					"verification_request_id", req.ID,
					"error", err,
				)
			}
			continue
		}
		if ok {
			expired++
		}
	}

	if s.metrics != nil {
		s.metrics.AddExpired(expired)
	}
	if s.logger != nil && expired > 0 {
		s.logger.InfoContext(ctx, "expired stale verification requests",
			"expired", expired,
			"scanned", len(stale),
			"cutoff", cutoff,
		)
	}
	return expired, ctx.Err()
}

// Run sweeps on the schedule until ctx is done, then waits for a running
// sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := s.SweepOnce(sweepCtx); err != nil && s.logger != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting expiry sweeper", "schedule", s.schedule, "ttl", s.ttl)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
