package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"civic/internal/offices/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
)

// InMemory is the development store. Claim is a compare-and-set under the
// store mutex, so concurrent claims on one office serialize.
type InMemory struct {
	mu      sync.RWMutex
	offices map[id.OfficeID]*models.GovernmentOffice
}

func NewInMemory() *InMemory {
	return &InMemory{offices: make(map[id.OfficeID]*models.GovernmentOffice)}
}

func (s *InMemory) Save(_ context.Context, office *models.GovernmentOffice) error {
	if err := office.CheckInvariant(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offices[office.ID]; ok {
		return fmt.Errorf("office %s: %w", office.ID, sentinel.ErrConflict)
	}
	s.offices[office.ID] = office.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, officeID id.OfficeID) (*models.GovernmentOffice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offices[officeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *InMemory) ClaimIfAvailable(_ context.Context, officeID id.OfficeID, officialID id.OfficialID, now time.Time) (*models.GovernmentOffice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offices[officeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := o.ApplyClaim(officialID, now); err != nil {
		return nil, sentinel.ErrAlreadyUsed
	}
	return o.Clone(), nil
}

func (s *InMemory) Release(_ context.Context, officeID id.OfficeID, now time.Time) (*id.OfficialID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offices[officeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return o.ApplyRelease(now), nil
}

// Search returns offices whose text contains every term, unclaimed first
// then by title.
func (s *InMemory) Search(ctx context.Context, terms []string, limit int) ([]*models.GovernmentOffice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.GovernmentOffice
	for _, o := range s.offices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if matchesAll(o.SearchText(), terms) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Claimed != out[j].Claimed {
			return !out[i].Claimed
		}
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].District < out[j].District
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesAll(haystack string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(haystack, t) {
			return false
		}
	}
	return true
}
