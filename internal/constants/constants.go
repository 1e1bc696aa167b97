package constants

import "time"

const ServiceName = "apha-integration-bridge"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaMaxWait      = 1 * time.Second
)

const (
	DefaultHTTPTimeout  = 10 * time.Second
	TokenRequestTimeout = 15 * time.Second
)

const (
	ShutdownTimeout   = 30 * time.Second
	SettlementTimeout = 30 * time.Second
)

const (
	// Service Bus limits the dead-letter description; longer text is truncated.
	MaxDeadLetterDescriptionLen = 4096
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	IntegrationSalesforce = "salesforce"
)

const (
	SourceServiceBus = "servicebus"
	SourceKafka      = "kafka"
)

const (
	HeaderDeliveryCount    = "x-delivery-count"
	HeaderDeadLetterReason = "x-dead-letter-reason"
	HeaderDeadLetterDesc   = "x-dead-letter-description"
	HeaderOriginalTopic    = "x-original-topic"
)
