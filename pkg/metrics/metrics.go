package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	// ReasonNone labels successful outcomes.
	ReasonNone = "none"
)

var (
	ProcessingOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_processing_outcomes_total",
			Help: "Total number of inbound messages processed by outcome (count)",
		},
		[]string{"outcome", "entity_path", "reason"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_processing_duration_ms",
			Help:    "End-to-end processing duration of an inbound message in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"outcome", "entity_path"},
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_settlements_total",
			Help: "Total number of message settlements by action (count)",
		},
		[]string{"action", "entity_path"},
	)

	SettlementFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_settlement_failures_total",
			Help: "Total number of settlement calls that failed (count)",
		},
		[]string{"action", "entity_path"},
	)

	SourceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_source_errors_total",
			Help: "Total number of message source errors not tied to a message (count)",
		},
		[]string{"entity_path", "reason"},
	)

	InFlightMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "intake_in_flight_messages",
			Help: "Number of messages currently being processed (count)",
		},
		[]string{"entity_path"},
	)

	ForwardOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesforce_forward_outcomes_total",
			Help: "Total number of composite forwarding calls by outcome (count)",
		},
		[]string{"outcome", "entity_path", "reason"},
	)

	ForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesforce_forward_duration_ms",
			Help:    "Duration of composite forwarding calls in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"outcome", "entity_path"},
	)

	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesforce_token_refresh_total",
			Help: "Total number of OAuth token refresh calls (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "operation"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

var (
	intakeOnce  sync.Once
	forwardOnce sync.Once
	cbOnce      sync.Once
	apiOnce     sync.Once
)

func RegisterIntakeMetrics() {
	intakeOnce.Do(func() {
		prometheus.MustRegister(
			ProcessingOutcomesTotal,
			ProcessingDuration,
			SettlementsTotal,
			SettlementFailuresTotal,
			SourceErrorsTotal,
			InFlightMessages,
		)
	})
}

func RegisterForwardMetrics() {
	forwardOnce.Do(func() {
		prometheus.MustRegister(ForwardOutcomesTotal, ForwardDuration, TokenRefreshTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	cbOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState, CircuitBreakerRequests, CircuitBreakerFailures)
	})
}

func RegisterAPIMetrics() {
	apiOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal, RetryAttemptsTotal)
	})
}

func IncProcessingOutcome(outcome, entityPath, reason string) {
	ProcessingOutcomesTotal.WithLabelValues(outcome, entityPath, reason).Inc()
}

func ObserveProcessingDuration(outcome, entityPath string, duration time.Duration) {
	ProcessingDuration.WithLabelValues(outcome, entityPath).Observe(float64(duration.Milliseconds()))
}

func IncSettlement(action, entityPath string) {
	SettlementsTotal.WithLabelValues(action, entityPath).Inc()
}

func IncSettlementFailure(action, entityPath string) {
	SettlementFailuresTotal.WithLabelValues(action, entityPath).Inc()
}

func IncSourceError(entityPath, reason string) {
	SourceErrorsTotal.WithLabelValues(entityPath, reason).Inc()
}

func IncForwardOutcome(outcome, entityPath, reason string) {
	ForwardOutcomesTotal.WithLabelValues(outcome, entityPath, reason).Inc()
}

func ObserveForwardDuration(outcome, entityPath string, duration time.Duration) {
	ForwardDuration.WithLabelValues(outcome, entityPath).Observe(float64(duration.Milliseconds()))
}

func IncTokenRefresh(status string) {
	TokenRefreshTotal.WithLabelValues(status).Inc()
}

func IncRetryAttempt(service, operation string) {
	RetryAttemptsTotal.WithLabelValues(service, operation).Inc()
}
