package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorIncludesCause(t *testing.T) {
	err := NewInternalError("store failed", errors.New("disk full"))
	assert.Equal(t, "INTERNAL_ERROR: store failed (disk full)", err.Error())
	assert.Equal(t, "NOT_FOUND: owner not found", NewNotFoundError("owner").Error())
}

func TestIsHelpers_SeeThroughWrapping(t *testing.T) {
	permanent := fmt.Errorf("job abc: %w", NewPermanentError("no token", nil))
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsUnauthenticated(permanent))

	unauth := fmt.Errorf("reconcile: %w", NewUnauthenticatedError("token revoked", errors.New("401")))
	assert.True(t, IsUnauthenticated(unauth))
	assert.False(t, IsPermanent(unauth))

	assert.True(t, IsNotFound(fmt.Errorf("x: %w", NewNotFoundError("tier"))))
	assert.True(t, IsValidation(NewBadRequestError("bad")))
	assert.True(t, IsValidation(NewValidationError("bad", nil)))
	assert.False(t, IsRateLimited(errors.New("plain")))
}

func TestRetryAt(t *testing.T) {
	reset := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	at, ok := RetryAt(fmt.Errorf("add: %w", NewRateLimitedUntilError("budget spent", reset)))
	assert.True(t, ok)
	assert.Equal(t, reset, at)

	_, ok = RetryAt(NewRateLimitedError("secondary limit"))
	assert.False(t, ok)
	_, ok = RetryAt(NewInternalError("boom", nil))
	assert.False(t, ok)
}
