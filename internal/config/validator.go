package config

import (
	"errors"
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic reports every invalid field, not just the first.
func ValidateStatic(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateBroker(cfg.Broker, cfg.Intake.Enabled)...)
	errs = append(errs, validateIntake(cfg.Intake)...)
	errs = append(errs, validateSalesforce(cfg.Salesforce)...)
	errs = append(errs, validateRetry(cfg.Retry)...)

	return errors.Join(errs...)
}

func validateServer(cfg ServerConfig) []error {
	var errs []error
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		})
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		})
	}
	return errs
}

func validateBroker(cfg BrokerConfig, intakeEnabled bool) []error {
	switch cfg.Type {
	case BrokerServiceBus, BrokerMemory:
		// Missing connection details only disable intake; see intake.Subscription.
		return nil
	case BrokerKafka:
		if !intakeEnabled {
			return nil
		}
		return validateKafka(cfg.Kafka)
	case "":
		return []error{&ValidationError{Field: "broker.type", Message: "broker type is required"}}
	default:
		return []error{&ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: servicebus, kafka, memory)", cfg.Type),
		}}
	}
}

func validateKafka(cfg KafkaConfig) []error {
	var errs []error
	if len(cfg.Brokers) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		})
	}
	for i, broker := range cfg.Brokers {
		if broker == "" {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			})
		}
	}
	if cfg.GroupID == "" {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		})
	}
	if cfg.Topic == "" {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.topic",
			Message: "Kafka topic is required",
		})
	}
	if cfg.DLQTopic == "" {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.dlq_topic",
			Message: "a dead-letter topic is required",
		})
	} else if cfg.DLQTopic == cfg.Topic {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.dlq_topic",
			Message: "dead-letter topic must differ from the input topic",
		})
	}
	return errs
}

func validateIntake(cfg IntakeConfig) []error {
	var errs []error
	if cfg.MaxConcurrentCalls < 1 {
		errs = append(errs, &ValidationError{
			Field:   "intake.max_concurrent_calls",
			Message: "max_concurrent_calls must be at least 1",
		})
	}
	if cfg.MaxDeliveryCount < 1 {
		errs = append(errs, &ValidationError{
			Field:   "intake.max_delivery_count",
			Message: "max_delivery_count must be at least 1",
		})
	}
	if cfg.ReceiveBatchSize < 0 {
		errs = append(errs, &ValidationError{
			Field:   "intake.receive_batch_size",
			Message: "receive_batch_size must be non-negative",
		})
	}
	return errs
}

func validateSalesforce(cfg SalesforceConfig) []error {
	var errs []error

	switch cfg.TokenStore.Type {
	case "", TokenStoreMemory, TokenStoreRedis:
	default:
		errs = append(errs, &ValidationError{
			Field:   "salesforce.token_store.type",
			Message: fmt.Sprintf("unknown token store: %s (supported: memory, redis)", cfg.TokenStore.Type),
		})
	}

	if !cfg.Enabled {
		return errs
	}

	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "salesforce.base_url",
			Message: "a valid base URL is required when salesforce is enabled",
		})
	}
	if _, err := url.ParseRequestURI(cfg.Auth.TokenURL); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "salesforce.auth.token_url",
			Message: "a valid token URL is required when salesforce is enabled",
		})
	}
	if cfg.Auth.ClientID == "" {
		errs = append(errs, &ValidationError{
			Field:   "salesforce.auth.client_id",
			Message: "client_id is required when salesforce is enabled",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "salesforce.timeout",
			Message: "timeout must be positive",
		})
	}
	return errs
}

func validateRetry(cfg RetryConfig) []error {
	var errs []error
	if cfg.MaxAttempts < 1 {
		errs = append(errs, &ValidationError{
			Field:   "retry.max_attempts",
			Message: "max_attempts must be at least 1",
		})
	}
	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		errs = append(errs, &ValidationError{
			Field:   "retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		})
	}
	if cfg.Multiplier <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "retry.multiplier",
			Message: "multiplier must be positive",
		})
	}
	return errs
}
