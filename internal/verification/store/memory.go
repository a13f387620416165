package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"civic/internal/verification/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
)

// InMemory keeps requests in a map guarded by a mutex. It enforces the single
// active request per official the way the partial unique index does in
// Postgres.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*entry
	seq      uint64
}

type entry struct {
	req *models.Request
	seq uint64
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.RequestID]*entry)}
}

func (s *InMemory) CreateIfNoActive(_ context.Context, r *models.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("request %s: %w", r.ID, sentinel.ErrConflict)
	}
	if !r.IsTerminal() {
		for _, e := range s.requests {
			if e.req.OfficialID == r.OfficialID && !e.req.IsTerminal() {
				return fmt.Errorf("official %s has active request %s: %w", r.OfficialID, e.req.ID, sentinel.ErrConflict)
			}
		}
	}
	s.seq++
	s.requests[r.ID] = &entry{req: r.Clone(), seq: s.seq}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.req.Clone(), nil
}

func (s *InMemory) FindActiveByOfficial(_ context.Context, officialID id.OfficialID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.requests {
		if e.req.OfficialID == officialID && !e.req.IsTerminal() {
			return e.req.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindLatestByOfficial(ctx context.Context, officialID id.OfficialID) (*models.Request, error) {
	all, err := s.ListByOfficial(ctx, officialID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return all[0], nil
}

// ListByOfficial returns the official's requests, newest first.
func (s *InMemory) ListByOfficial(_ context.Context, officialID id.OfficialID) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*entry
	for _, e := range s.requests {
		if e.req.OfficialID == officialID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return newer(matched[i], matched[j]) })
	return clones(matched), nil
}

// Update replaces a pending request. Terminal requests are never rewritten.
func (s *InMemory) Update(_ context.Context, r *models.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.requests[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if e.req.IsTerminal() {
		return fmt.Errorf("request %s is %s: %w", r.ID, e.req.Status, sentinel.ErrInvalidState)
	}
	e.req = r.Clone()
	return nil
}

// ListAwaitingReview returns pending requests whose next step is a reviewer
// decision, oldest submission first.
func (s *InMemory) ListAwaitingReview(_ context.Context, limit int) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*entry
	for _, e := range s.requests {
		if e.req.AwaitingReview() {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return newer(matched[j], matched[i]) })
	return clones(truncate(matched, limit)), nil
}

// ListStale returns pending requests not waiting on a reviewer whose last
// update is before cutoff.
func (s *InMemory) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*entry
	for _, e := range s.requests {
		if !e.req.IsTerminal() && !e.req.AwaitingReview() && e.req.UpdatedAt.Before(cutoff) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return newer(matched[j], matched[i]) })
	return clones(truncate(matched, limit)), nil
}

func newer(a, b *entry) bool {
	if !a.req.CreatedAt.Equal(b.req.CreatedAt) {
		return a.req.CreatedAt.After(b.req.CreatedAt)
	}
	return a.seq > b.seq
}

func truncate(es []*entry, limit int) []*entry {
	if limit > 0 && len(es) > limit {
		return es[:limit]
	}
	return es
}

func clones(es []*entry) []*models.Request {
	out := make([]*models.Request, 0, len(es))
	for _, e := range es {
		out = append(out, e.req.Clone())
	}
	return out
}
