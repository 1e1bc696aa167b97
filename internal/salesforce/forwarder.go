package salesforce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/metrics"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/tracing"
)

// ForwardError is any failure of a downstream write after a successful
// transform. It is always retryable; the cause is preserved.
type ForwardError struct {
	Integration string
	StatusCode  int
	Reason      string
	Cause       error
}

func (e *ForwardError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s forward failed (status %d): %v", e.Integration, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s forward failed: %v", e.Integration, e.Cause)
}

func (e *ForwardError) Unwrap() error {
	return e.Cause
}

func (e *ForwardError) IsRetryable() bool { return true }

type compositeClient interface {
	Composite(ctx context.Context, req *models.CompositeRequest) (*models.CompositeResponse, error)
}

// Forwarder executes composite writes and records their outcome. It never
// retries; redelivery is the caller's concern.
type Forwarder struct {
	client     compositeClient
	entityPath string
	logger     logger.Logger
}

func NewForwarder(client compositeClient, entityPath string, log logger.Logger) *Forwarder {
	return &Forwarder{client: client, entityPath: entityPath, logger: log}
}

func (f *Forwarder) Forward(ctx context.Context, req *models.CompositeRequest) (*models.CompositeResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "salesforce.composite",
		attribute.String("entity_path", f.entityPath),
		attribute.Int("sub_requests", len(req.CompositeRequest)),
	)
	defer span.End()

	start := time.Now()
	resp, err := f.client.Composite(ctx, req)
	if err == nil {
		err = resp.Err()
	}
	elapsed := time.Since(start)

	if err == nil {
		metrics.IncForwardOutcome(metrics.OutcomeSuccess, f.entityPath, metrics.ReasonNone)
		metrics.ObserveForwardDuration(metrics.OutcomeSuccess, f.entityPath, elapsed)
		f.logger.DebugwCtx(ctx, "Composite request forwarded",
			"entity_path", f.entityPath,
			"sub_requests", len(req.CompositeRequest),
			"duration", elapsed,
		)
		return resp, nil
	}

	fwdErr := &ForwardError{
		Integration: constants.IntegrationSalesforce,
		Reason:      forwardReason(err),
		Cause:       err,
	}
	var se *StatusError
	if errors.As(err, &se) {
		fwdErr.StatusCode = se.StatusCode
	}

	metrics.IncForwardOutcome(metrics.OutcomeFailure, f.entityPath, fwdErr.Reason)
	metrics.ObserveForwardDuration(metrics.OutcomeFailure, f.entityPath, elapsed)
	tracing.SetSpanError(ctx, fwdErr)
	f.logger.WarnwCtx(ctx, "Composite request failed",
		"entity_path", f.entityPath,
		"reason", fwdErr.Reason,
		"error", err,
	)
	return nil, fwdErr
}

func forwardReason(err error) string {
	var se *StatusError
	var pf *models.PartialFailureError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.As(err, &se):
		return "http_" + strconv.Itoa(se.StatusCode)
	case errors.As(err, &pf):
		return "partial_failure"
	default:
		return "transport"
	}
}
