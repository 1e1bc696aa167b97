package transform

import (
	"fmt"
	"strings"

	apperrors "github.com/DEFRA/apha-integration-bridge-sub000/pkg/errors"
)

type FieldIssue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries every issue found in a payload. It is never retryable.
type ValidationError struct {
	Issues []FieldIssue
}

func newValidationError(field, code, format string, args ...any) *ValidationError {
	return &ValidationError{Issues: []FieldIssue{{
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) IsRetryable() bool { return false }

func (e *ValidationError) AppError() *apperrors.Error {
	return apperrors.ErrValidation.
		WithCause(e).
		WithDetail("errors", e.Issues).
		AsFatal()
}

// MappingError is a business-rule violation found while building the write.
type MappingError struct {
	Entity Entity
	Rule   string
	Cause  error
}

func (e *MappingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("mapping failed for %s: %s: %v", e.Entity, e.Rule, e.Cause)
	}
	return fmt.Sprintf("mapping failed for %s: %s", e.Entity, e.Rule)
}

func (e *MappingError) Unwrap() error {
	return e.Cause
}

func (e *MappingError) IsRetryable() bool { return false }

func (e *MappingError) AppError() *apperrors.Error {
	return apperrors.ErrMapping.
		WithCause(e).
		WithDetail("entity", string(e.Entity)).
		WithDetail("rule", e.Rule).
		AsFatal()
}
