package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"civic/internal/officials/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
)

// InMemory keeps profiles in a map guarded by a mutex. Values are cloned on
// the way in and out.
type InMemory struct {
	mu        sync.RWMutex
	officials map[id.OfficialID]*models.OfficialProfile
}

func NewInMemory() *InMemory {
	return &InMemory{officials: make(map[id.OfficialID]*models.OfficialProfile)}
}

func (s *InMemory) Save(_ context.Context, p *models.OfficialProfile) error {
	if err := p.CheckInvariant(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.officials[p.ID]; ok {
		return fmt.Errorf("official %s: %w", p.ID, sentinel.ErrConflict)
	}
	s.officials[p.ID] = p.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, officialID id.OfficialID) (*models.OfficialProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.officials[officialID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemory) UpdateVerification(_ context.Context, p *models.OfficialProfile) error {
	if err := p.CheckInvariant(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.officials[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	updated := current.Clone()
	updated.VerificationStatus = p.VerificationStatus
	updated.VerificationMethod = p.Clone().VerificationMethod
	updated.VerifiedAt = p.Clone().VerifiedAt
	updated.UpdatedAt = p.UpdatedAt
	s.officials[p.ID] = updated
	return nil
}

func (s *InMemory) LinkOffice(_ context.Context, officialID id.OfficialID, officeID id.OfficeID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.officials[officialID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if p.OfficeID != nil && !p.HoldsOffice(officeID) {
		return fmt.Errorf("official %s holds another office: %w", officialID, sentinel.ErrConflict)
	}
	o := officeID
	p.OfficeID = &o
	p.UpdatedAt = now
	return nil
}

func (s *InMemory) UnlinkOffice(_ context.Context, officialID id.OfficialID, officeID id.OfficeID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.officials[officialID]
	if !ok || !p.HoldsOffice(officeID) {
		return nil
	}
	p.OfficeID = nil
	p.UpdatedAt = now
	return nil
}
