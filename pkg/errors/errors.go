package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound            = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation          = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrMapping             = NewError("MAPPING_ERROR", "payload could not be mapped", http.StatusUnprocessableEntity)
	ErrPayloadTooLarge     = NewError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge)
	ErrIntegrationDisabled = NewError("INTEGRATION_DISABLED", "integration disabled", http.StatusServiceUnavailable)
	ErrInternal            = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

// RetryableError is implemented by errors that know whether another attempt can succeed.
type RetryableError interface {
	error
	IsRetryable() bool
}

// FatalError is implemented by errors that must never be retried.
type FatalError interface {
	error
	IsFatal() bool
}

// Error is the coded application error rendered by the HTTP surface.
type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
		msg = detailMsg
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return !e.isClientError()
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) isClientError() bool {
	switch e.Code {
	case ErrValidation.Code, ErrMapping.Code, ErrPayloadTooLarge.Code, ErrNotFound.Code, ErrIntegrationDisabled.Code:
		return true
	}
	return false
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse renders err for API callers. Causes are never included.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
