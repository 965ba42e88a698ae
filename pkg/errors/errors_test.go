package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	clone := Clone(ErrConflict, "slot already booked")
	assert.True(t, errors.Is(clone, ErrConflict))
	assert.False(t, errors.Is(clone, ErrNotFound))
	assert.Equal(t, "conflict", ErrConflict.Message)

	wrapped := fmt.Errorf("commit: %w", Wrap(sql.ErrConnDone, ErrStaleResourceModel.Code, http.StatusConflict, "retry"))
	assert.True(t, errors.Is(wrapped, ErrStaleResourceModel))
	assert.True(t, errors.Is(wrapped, sql.ErrConnDone))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(ErrConflict))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	internal := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, internal.Code)
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.Equal(t, "internal server error: boom", internal.Error())

	typed := FromError(fmt.Errorf("wrap: %w", ErrInvalidOverride))
	assert.Equal(t, http.StatusBadRequest, typed.Status)
	assert.Nil(t, Clone(nil, "x"))
}

func TestWithCauseLeavesPredefinedUntouched(t *testing.T) {
	err := ErrValidation.WithCause(sql.ErrNoRows, "invalid payload")
	assert.Equal(t, CodeValidation, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, "invalid payload: sql: no rows in result set", err.Error())
	assert.Nil(t, ErrValidation.Err)
	assert.Equal(t, "validation failed", ErrValidation.Message)

	kept := ErrRunCancelled.WithCause(sql.ErrConnDone, "")
	assert.Equal(t, ErrRunCancelled.Message, kept.Message)

	var nilErr *Error
	assert.Nil(t, nilErr.WithCause(sql.ErrConnDone, "x"))
}
