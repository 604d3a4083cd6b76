package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByCode(t *testing.T) {
	err := NotFoundf("image %s not found", "img-1")
	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrConflict))

	wrapped := fmt.Errorf("reorder: %w", Conflict("stale version"))
	assert.True(t, Is(wrapped, ErrConflict))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeValidation, CodeOf(Validation("bad")))
	assert.Equal(t, CodeNetwork, CodeOf(fmt.Errorf("push: %w", Network("offline"))))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Network("timeout")))
	assert.False(t, IsRetryable(Conflict("version")))
	assert.False(t, IsRetryable(Validation("bad")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrapf(cause, CodeCache, "write %s", "img-1")

	assert.Equal(t, "write img-1: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrCache)
}

func TestWithDetails(t *testing.T) {
	base := Validation("invalid image")
	detailed := base.WithDetails(map[string]string{"title": "required"})

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]string{"title": "required"}, detailed.Details)
	assert.Equal(t, CodeValidation, detailed.Code)
}
