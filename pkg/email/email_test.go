package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "civic/pkg/domain-errors"
)

func TestNormalize(t *testing.T) {
	t.Run("lowercases the domain only", func(t *testing.T) {
		got, err := Normalize("  Jane.Doe@Senate.CA.gov ")
		require.NoError(t, err)
		assert.Equal(t, "Jane.Doe@senate.ca.gov", got)
	})

	for _, bad := range []string{"", "not-an-email", "Jane <jane@senate.ca.gov>", "a@"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := Normalize(bad)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestHasAllowedDomain(t *testing.T) {
	suffixes := []string{".gov", "state.ny.us"}

	assert.True(t, HasAllowedDomain("a@senate.ca.gov", suffixes))
	assert.True(t, HasAllowedDomain("a@gov", suffixes))
	assert.True(t, HasAllowedDomain("b@assembly.state.ny.us", suffixes))
	assert.False(t, HasAllowedDomain("c@example.com", suffixes))
	assert.False(t, HasAllowedDomain("d@notgov", suffixes))
	assert.True(t, HasAllowedDomain("e@example.com", nil))
}
