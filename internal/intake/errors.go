package intake

import (
	"fmt"

	apperrors "github.com/DEFRA/apha-integration-bridge-sub000/pkg/errors"
)

// IntegrationDisabledError means a downstream integration is switched off by
// configuration. Retrying cannot help until the configuration changes.
type IntegrationDisabledError struct {
	Integration string
}

func (e *IntegrationDisabledError) Error() string {
	return fmt.Sprintf("%s integration is disabled", e.Integration)
}

func (e *IntegrationDisabledError) IsRetryable() bool { return false }

func (e *IntegrationDisabledError) AppError() *apperrors.Error {
	return apperrors.ErrIntegrationDisabled.
		WithCause(e).
		WithDetail("integration", e.Integration).
		AsFatal()
}
