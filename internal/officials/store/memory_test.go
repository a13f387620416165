package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civic/internal/officials/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
)

type OfficialStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func (s *OfficialStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
}

func TestOfficialStoreSuite(t *testing.T) {
	suite.Run(t, new(OfficialStoreSuite))
}

func (s *OfficialStoreSuite) register(name string) *models.OfficialProfile {
	p, err := models.NewOfficialProfile(id.NewOfficialID(), name, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(s.ctx, p))
	return p
}

func (s *OfficialStoreSuite) TestSaveAndFind() {
	s.Run("finds a saved profile", func() {
		p := s.register("Ada Moreno")
		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal("Ada Moreno", found.Name)
	})

	s.Run("rejects a duplicate id", func() {
		p := s.register("Ada Moreno")
		s.ErrorIs(s.store.Save(s.ctx, p), sentinel.ErrConflict)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.store.FindByID(s.ctx, id.NewOfficialID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *OfficialStoreSuite) TestReturnedProfilesAreCopies() {
	p := s.register("Ada Moreno")
	found, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	found.VerificationStatus = models.StatusVerified

	again, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusUnverified, again.VerificationStatus)
}

func (s *OfficialStoreSuite) TestUpdateVerification() {
	s.Run("persists verification fields", func() {
		p := s.register("Ada Moreno")
		_, err := p.ApplyStatus(models.StatusVerified, id.MethodGovernmentEmail, s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.UpdateVerification(s.ctx, p))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(found.IsVerified())
		s.Equal(id.MethodGovernmentEmail, *found.VerificationMethod)
	})

	s.Run("refuses a profile that breaks the verified invariant", func() {
		p := s.register("Ada Moreno")
		p.VerificationStatus = models.StatusVerified
		s.Error(s.store.UpdateVerification(s.ctx, p))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusUnverified, found.VerificationStatus)
	})

	s.Run("does not touch the office link", func() {
		p := s.register("Ada Moreno")
		office := id.NewOfficeID()
		s.Require().NoError(s.store.LinkOffice(s.ctx, p.ID, office, s.now))

		_, err := p.ApplyStatus(models.StatusPending, "", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.UpdateVerification(s.ctx, p))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(found.HoldsOffice(office))
	})
}

func (s *OfficialStoreSuite) TestOfficeLink() {
	s.Run("link and unlink", func() {
		p := s.register("Ada Moreno")
		office := id.NewOfficeID()
		s.Require().NoError(s.store.LinkOffice(s.ctx, p.ID, office, s.now))
		s.Require().NoError(s.store.UnlinkOffice(s.ctx, p.ID, office, s.now))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Nil(found.OfficeID)
	})

	s.Run("unlink of a different office keeps the link", func() {
		p := s.register("Ada Moreno")
		office := id.NewOfficeID()
		s.Require().NoError(s.store.LinkOffice(s.ctx, p.ID, office, s.now))
		s.Require().NoError(s.store.UnlinkOffice(s.ctx, p.ID, id.NewOfficeID(), s.now))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(found.HoldsOffice(office))
	})

	s.Run("link to a second office conflicts", func() {
		p := s.register("Ada Moreno")
		office := id.NewOfficeID()
		s.Require().NoError(s.store.LinkOffice(s.ctx, p.ID, office, s.now))
		s.Require().NoError(s.store.LinkOffice(s.ctx, p.ID, office, s.now))
		s.ErrorIs(s.store.LinkOffice(s.ctx, p.ID, id.NewOfficeID(), s.now), sentinel.ErrConflict)

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(found.HoldsOffice(office))
	})

	s.Run("link of unknown official is not found", func() {
		s.ErrorIs(s.store.LinkOffice(s.ctx, id.NewOfficialID(), id.NewOfficeID(), s.now), sentinel.ErrNotFound)
	})
}
