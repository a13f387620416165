package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	id "civic/pkg/domain"
)

func TestExtractString(t *testing.T) {
	officialID := id.NewOfficialID()
	kv := []any{"event", "office_claimed", "official_id", officialID, "attempts", 3}

	assert.Equal(t, "office_claimed", ExtractString(kv, "event"))
	assert.Equal(t, officialID.String(), ExtractString(kv, "official_id"))
	assert.Empty(t, ExtractString(kv, "attempts"))
	assert.Empty(t, ExtractString(kv, "missing"))
	assert.Empty(t, ExtractString([]any{"dangling"}, "dangling"))
}
