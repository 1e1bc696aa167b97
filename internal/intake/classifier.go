package intake

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/broker"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/salesforce"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/transform"
)

const (
	ReasonValidationFailed = "validation_failed"
	ReasonMappingFailed    = "mapping_failed"
	ReasonTimeout          = "timeout"
	ReasonUnknown          = "unknown_error"
)

type Classification struct {
	Retryable bool
	Reason    string
}

// Classify maps any failure onto retryability and a metric-safe reason.
// Unrecognised errors are retryable so nothing is dropped silently.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var (
		validationErr *transform.ValidationError
		mappingErr    *transform.MappingError
		disabledErr   *IntegrationDisabledError
		sourceErr     *broker.SourceError
		forwardErr    *salesforce.ForwardError
	)

	switch {
	case errors.As(err, &validationErr):
		return Classification{Retryable: false, Reason: ReasonValidationFailed}
	case errors.As(err, &mappingErr):
		return Classification{Retryable: false, Reason: ReasonMappingFailed}
	case errors.As(err, &disabledErr):
		return Classification{Retryable: false, Reason: labelSafe(disabledErr.Integration) + "_disabled"}
	case isTimeout(err):
		return Classification{Retryable: true, Reason: ReasonTimeout}
	case errors.As(err, &sourceErr):
		return Classification{Retryable: sourceErr.IsRetryable(), Reason: sourceErr.Reason()}
	case errors.As(err, &forwardErr):
		return Classification{Retryable: true, Reason: labelSafe(forwardErr.Integration) + "_error"}
	default:
		return Classification{Retryable: true, Reason: ReasonUnknown}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func labelSafe(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "integration"
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}
