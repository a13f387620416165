package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"civic/pkg/platform/circuit"
)

// Producer writes a keyed record to the event log.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

const defaultSinkBuffer = 256

// Sink mirrors bus events to a Producer from a background worker so a slow
// or unavailable broker never blocks a verification write. When the buffer
// is full or the circuit is open, events are dropped and logged.
type Sink struct {
	producer Producer
	inbox    chan Event
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewSink(producer Producer, breaker *circuit.Breaker, logger *slog.Logger) *Sink {
	return &Sink{
		producer: producer,
		inbox:    make(chan Event, defaultSinkBuffer),
		breaker:  breaker,
		logger:   logger,
	}
}

func (s *Sink) Handle(ctx context.Context, e Event) {
	select {
	case s.inbox <- e:
	default:
		s.logger.WarnContext(ctx, "event sink buffer full, dropping event", "event_type", e.Type, "event_id", e.ID)
	}
}

// Run forwards queued events until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-s.inbox:
			s.forward(ctx, e)
		}
	}
}

func (s *Sink) forward(ctx context.Context, e Event) {
	if !s.breaker.Allow() {
		s.logger.DebugContext(ctx, "event sink circuit open, dropping event", "event_type", e.Type)
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode event", "event_type", e.Type, "error", err)
		return
	}
	if err := s.producer.Publish(ctx, e.Key(), payload); err != nil {
		if s.breaker.RecordFailure() {
			s.logger.ErrorContext(ctx, "event sink circuit opened", "breaker", s.breaker.Name(), "error", err)
		} else {
			s.logger.WarnContext(ctx, "failed to forward event", "event_type", e.Type, "error", err)
		}
		return
	}
	if s.breaker.RecordSuccess() {
		s.logger.InfoContext(ctx, "event sink circuit closed", "breaker", s.breaker.Name())
	}
}
