package intake

import (
	"context"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/broker"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/transform"
	apperrors "github.com/DEFRA/apha-integration-bridge-sub000/pkg/errors"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/logging"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/metrics"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/tracing"
)

type Transformer interface {
	Transform(body any) (*transform.Event, error)
	BuildCompositeRequest(ev *transform.Event) (*models.CompositeRequest, error)
}

type Forwarder interface {
	Forward(ctx context.Context, req *models.CompositeRequest) (*models.CompositeResponse, error)
}

type Decision int

const (
	DecisionComplete Decision = iota
	DecisionAbandon
	DecisionDeadLetter
)

func (d Decision) String() string {
	switch d {
	case DecisionComplete:
		return "complete"
	case DecisionAbandon:
		return "abandon"
	case DecisionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Decide settles a failed delivery: dead-letter when the failure cannot be
// retried or the delivery budget is spent, otherwise abandon.
func Decide(c Classification, attempt, maxDeliveryCount int) Decision {
	if !c.Retryable || attempt >= maxDeliveryCount {
		return DecisionDeadLetter
	}
	return DecisionAbandon
}

const (
	StageParsing      = "parsing"
	StageTransforming = "transforming"
	StageGuard        = "guard"
	StageForwarding   = "forwarding"
	StageDone         = "done"
)

// Outcome describes what happened to one delivery.
type Outcome struct {
	Decision       Decision
	Classification Classification
	Stage          string
	Attempt        int
	Err            error
	SettleErr      error
}

type ProcessorConfig struct {
	EntityPath         string
	MaxDeliveryCount   int
	Integration        string
	IntegrationEnabled bool
}

// Processor runs one message through parse, transform, forward and settle.
// Every failure ends in a settlement; nothing is returned to the caller
// as an error.
type Processor struct {
	cfg         ProcessorConfig
	transformer Transformer
	forwarder   Forwarder
	logger      logger.Logger
}

func NewProcessor(cfg ProcessorConfig, transformer Transformer, forwarder Forwarder, log logger.Logger) *Processor {
	if cfg.Integration == "" {
		cfg.Integration = constants.IntegrationSalesforce
	}
	if cfg.MaxDeliveryCount < 1 {
		cfg.MaxDeliveryCount = 1
	}
	return &Processor{
		cfg:         cfg,
		transformer: transformer,
		forwarder:   forwarder,
		logger:      log,
	}
}

func (p *Processor) Process(ctx context.Context, msg *broker.Message, settler broker.Settler) Outcome {
	start := time.Now()
	attempt := msg.Attempt()

	ctx = tracing.ExtractFromProperties(ctx, msg.Properties)
	ctx, span := tracing.StartSpan(ctx, "intake.process",
		attribute.String("messaging.message_id", msg.MessageID),
		attribute.String("entity_path", p.cfg.EntityPath),
		attribute.Int("delivery_attempt", attempt),
	)
	defer span.End()

	ctx = logging.WithMessageID(ctx, msg.MessageID)
	ctx = logging.WithAttempt(ctx, attempt)
	if traceID := tracing.TraceID(ctx); traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}

	inFlight := metrics.InFlightMessages.WithLabelValues(p.cfg.EntityPath)
	inFlight.Inc()
	defer inFlight.Dec()

	stage, err := p.run(ctx, msg)
	span.SetAttributes(attribute.String("stage", stage))

	if err == nil {
		out := Outcome{Decision: DecisionComplete, Stage: stage, Attempt: attempt}
		out.SettleErr = p.settle(ctx, settler, msg, out.Decision, broker.DeadLetterOptions{})

		metrics.IncProcessingOutcome(metrics.OutcomeSuccess, p.cfg.EntityPath, metrics.ReasonNone)
		metrics.ObserveProcessingDuration(metrics.OutcomeSuccess, p.cfg.EntityPath, time.Since(start))
		p.logger.InfowCtx(ctx, "Message processed",
			"entity_path", p.cfg.EntityPath,
			"attempt", attempt,
			"duration", time.Since(start),
		)
		return out
	}

	class := Classify(err)
	out := Outcome{
		Decision:       Decide(class, attempt, p.cfg.MaxDeliveryCount),
		Classification: class,
		Stage:          stage,
		Attempt:        attempt,
		Err:            err,
	}
	tracing.SetSpanError(ctx, err)

	opts := broker.DeadLetterOptions{}
	if out.Decision == DecisionDeadLetter {
		opts = broker.DeadLetterOptions{
			Reason:      class.Reason,
			Description: truncate(err.Error(), constants.MaxDeadLetterDescriptionLen),
		}
	}
	out.SettleErr = p.settle(ctx, settler, msg, out.Decision, opts)

	metrics.IncProcessingOutcome(metrics.OutcomeFailure, p.cfg.EntityPath, class.Reason)
	metrics.ObserveProcessingDuration(metrics.OutcomeFailure, p.cfg.EntityPath, time.Since(start))

	fields := []interface{}{
		"entity_path", p.cfg.EntityPath,
		"stage", stage,
		"attempt", attempt,
		"max_delivery_count", p.cfg.MaxDeliveryCount,
		"reason", class.Reason,
		"retryable", class.Retryable,
		"decision", out.Decision.String(),
		"error", err,
	}
	if out.Decision == DecisionDeadLetter {
		p.logger.ErrorwCtx(ctx, "Message dead-lettered", fields...)
	} else {
		p.logger.WarnwCtx(ctx, "Message abandoned for redelivery", fields...)
	}
	return out
}

// run executes the stages in order and reports the stage that failed.
func (p *Processor) run(ctx context.Context, msg *broker.Message) (stage string, err error) {
	stage = StageParsing
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()

	raw, err := transform.ParseBody(msg.Body)
	if err != nil {
		return stage, err
	}

	stage = StageTransforming
	ev, err := p.transformer.Transform(raw)
	if err != nil {
		return stage, err
	}
	req, err := p.transformer.BuildCompositeRequest(ev)
	if err != nil {
		return stage, err
	}

	stage = StageGuard
	if !p.cfg.IntegrationEnabled {
		return stage, &IntegrationDisabledError{Integration: p.cfg.Integration}
	}

	stage = StageForwarding
	if _, err := p.forwarder.Forward(ctx, req); err != nil {
		return stage, err
	}
	return StageDone, nil
}

// settle never fails the caller. The settlement context survives
// cancellation of ctx so shutdown does not strand a finished message.
func (p *Processor) settle(ctx context.Context, settler broker.Settler, msg *broker.Message, decision Decision, opts broker.DeadLetterOptions) error {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.SettlementTimeout)
	defer cancel()

	var err error
	switch decision {
	case DecisionComplete:
		err = settler.Complete(settleCtx, msg)
	case DecisionAbandon:
		err = settler.Abandon(settleCtx, msg)
	case DecisionDeadLetter:
		err = settler.DeadLetter(settleCtx, msg, opts)
	}

	if err != nil {
		metrics.IncSettlementFailure(decision.String(), p.cfg.EntityPath)
		p.logger.ErrorwCtx(ctx, "Message settlement failed",
			"entity_path", p.cfg.EntityPath,
			"action", decision.String(),
			"error", err,
		)
		return err
	}
	metrics.IncSettlement(decision.String(), p.cfg.EntityPath)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
