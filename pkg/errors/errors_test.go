package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fatal struct{}

func (fatal) Error() string { return "fatal" }
func (fatal) IsFatal() bool { return true }

func TestError_IsRetryable(t *testing.T) {
	assert.False(t, ErrValidation.IsRetryable(), "client errors are not retryable")
	assert.True(t, ErrInternal.IsRetryable())
	assert.False(t, ErrInternal.WithCause(fatal{}).IsRetryable(), "fatal cause wins")
	assert.True(t, ErrValidation.AsRetryable().IsRetryable(), "override wins")
}

func TestToErrorResponse_HidesCause(t *testing.T) {
	resp := ToErrorResponse(errors.New("dial tcp 10.0.0.1: refused"))

	assert.Equal(t, ErrInternal.Code, resp["error_code"])
	assert.Equal(t, ErrInternal.Message, resp["error"])
	assert.NotContains(t, resp, "details")
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, ToHTTPStatus(ErrMapping.WithDetail("rule", "x")))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(errors.New("plain")))
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(nil))

	err := RecoverPanic("boom")
	var appErr *Error
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, true, appErr.Details["panic"])
	assert.True(t, appErr.IsRetryable())
	assert.Contains(t, err.Error(), "panic: boom")
}
