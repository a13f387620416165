package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
)

func TestGovernmentOfficeClaimLifecycle(t *testing.T) {
	now := time.Now()
	office, err := NewGovernmentOffice(id.NewOfficeID(), "State Senator", "California", "District 15", now)
	require.NoError(t, err)
	assert.Equal(t, "State Senator, District 15", office.DisplayName())
	assert.True(t, office.IsAvailable())

	a := id.NewOfficialID()
	require.NoError(t, office.ApplyClaim(a, now))
	assert.True(t, office.IsClaimedBy(a))
	assert.NoError(t, office.CheckInvariant())

	err = office.ApplyClaim(id.NewOfficialID(), now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyClaimed))
	assert.True(t, office.IsClaimedBy(a), "losing claim leaves the holder in place")

	prev := office.ApplyRelease(now)
	require.NotNil(t, prev)
	assert.Equal(t, a, *prev)
	assert.True(t, office.IsAvailable())
	assert.Nil(t, office.ClaimedBy)
	assert.NoError(t, office.CheckInvariant())
}

func TestNewGovernmentOfficeRequiresTitle(t *testing.T) {
	_, err := NewGovernmentOffice(id.NewOfficeID(), "  ", "California", "", time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestCheckInvariantRejectsInconsistentRows(t *testing.T) {
	o := &GovernmentOffice{ID: id.NewOfficeID(), Title: "Mayor", Claimed: true}
	assert.True(t, dErrors.HasCode(o.CheckInvariant(), dErrors.CodeInvariantViolation))
}
