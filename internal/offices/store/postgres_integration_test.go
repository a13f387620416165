//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civic/internal/offices/models"
	"civic/internal/offices/store"
	officialmodels "civic/internal/officials/models"
	officialstore "civic/internal/officials/store"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
	"civic/pkg/platform/tx"
	"civic/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	store     *store.PostgresStore
	officials *officialstore.PostgresStore
	now       time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.officials = officialstore.NewPostgres(s.postgres.DB)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "verification_requests", "officials", "government_offices"))
}

func (s *PostgresStoreSuite) seedOffice(title, district string) *models.GovernmentOffice {
	o, err := models.NewGovernmentOffice(id.NewOfficeID(), title, "California", district, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(context.Background(), o))
	return o
}

func (s *PostgresStoreSuite) seedOfficial() *officialmodels.OfficialProfile {
	p, err := officialmodels.NewOfficialProfile(id.NewOfficialID(), "Ada Moreno", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.officials.Save(context.Background(), p))
	return p
}

// TestConcurrentClaimsYieldOneWinner verifies the conditional update lets
// exactly one of many concurrent claimants through.
func (s *PostgresStoreSuite) TestConcurrentClaimsYieldOneWinner() {
	ctx := context.Background()
	office := s.seedOffice("State Senator", "District 15")
	const goroutines = 30

	var wg sync.WaitGroup
	var wins, losses atomic.Int32
	for i := 0; i < goroutines; i++ {
		official := s.seedOfficial()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.ClaimIfAvailable(ctx, office.ID, official.ID, s.now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), losses.Load())
}

func (s *PostgresStoreSuite) TestClaimAndLinkRollBackTogether() {
	ctx := context.Background()
	office := s.seedOffice("Mayor", "")
	runner := tx.NewSQLRunner(s.postgres.DB)

	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.ClaimIfAvailable(ctx, office.ID, id.NewOfficialID(), s.now); err != nil {
			return err
		}
		return s.officials.LinkOffice(ctx, id.NewOfficialID(), office.ID, s.now)
	})
	s.Require().Error(err, "unknown official must abort the claim")

	found, err := s.store.FindByID(ctx, office.ID)
	s.Require().NoError(err)
	s.True(found.IsAvailable())
}

func (s *PostgresStoreSuite) TestOneOfficePerOfficial() {
	ctx := context.Background()
	first := s.seedOffice("State Senator", "District 15")
	second := s.seedOffice("Assembly Member", "District 9")
	official := s.seedOfficial()

	_, err := s.store.ClaimIfAvailable(ctx, first.ID, official.ID, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.officials.LinkOffice(ctx, official.ID, first.ID, s.now))

	s.Run("second office claim is rejected by the claimant index", func() {
		_, err := s.store.ClaimIfAvailable(ctx, second.ID, official.ID, s.now)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("link to a second office is rejected", func() {
		s.ErrorIs(s.officials.LinkOffice(ctx, official.ID, second.ID, s.now), sentinel.ErrConflict)
		s.NoError(s.officials.LinkOffice(ctx, official.ID, first.ID, s.now))
	})

	found, err := s.store.FindByID(ctx, second.ID)
	s.Require().NoError(err)
	s.True(found.IsAvailable())
}

func (s *PostgresStoreSuite) TestReleaseReturnsFormerClaimant() {
	ctx := context.Background()
	office := s.seedOffice("Mayor", "")
	official := s.seedOfficial()
	_, err := s.store.ClaimIfAvailable(ctx, office.ID, official.ID, s.now)
	s.Require().NoError(err)

	prev, err := s.store.Release(ctx, office.ID, s.now)
	s.Require().NoError(err)
	s.Require().NotNil(prev)
	s.Equal(official.ID, *prev)

	_, err = s.store.Release(ctx, id.NewOfficeID(), s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSearchEscapesWildcards() {
	ctx := context.Background()
	s.seedOffice("State Senator", "District 15")
	s.seedOffice("Mayor", "")

	got, err := s.store.Search(ctx, []string{"senator"}, 10)
	s.Require().NoError(err)
	s.Len(got, 1)

	got, err = s.store.Search(ctx, []string{"%"}, 10)
	s.Require().NoError(err)
	s.Empty(got)
}
