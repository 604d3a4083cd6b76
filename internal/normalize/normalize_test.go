package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"red", "red"},
		{"  red  ", "red"},
		{"blue\t sky", "blue sky"},
		{"Red", "Red"},
		{"", ""},
		// Decomposed e + combining acute becomes the precomposed form.
		{"café", "café"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, TagName(tt.input))
		})
	}
}

func TestSameTag(t *testing.T) {
	assert.True(t, SameTag("café", "café "))
	assert.False(t, SameTag("red", "Red"))
}
