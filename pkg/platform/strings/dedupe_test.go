package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"nil slice", nil, nil},
		{"empty slice", []string{}, []string{}},
		{"trims whitespace", []string{"  foo  ", "bar  ", "  baz"}, []string{"foo", "bar", "baz"}},
		{"folds case before comparing", []string{"  FOO ", "bar", "Foo"}, []string{"foo", "bar"}},
		{"removes duplicates preserving order", []string{"foo", "bar", "foo", "baz", "bar"}, []string{"foo", "bar", "baz"}},
		{"drops blanks", []string{"", "  ", "x"}, []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, dedupeLower(tt.input))
		})
	}
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"state", "senator", "15"}, Terms("State Senator,  15 state"))
	assert.Empty(t, Terms("  , "))
}
