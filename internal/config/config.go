package config

import (
	"time"
)

const (
	BrokerServiceBus = "servicebus"
	BrokerKafka      = "kafka"
	BrokerMemory     = "memory"

	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Intake         IntakeConfig         `mapstructure:"intake"`
	Salesforce     SalesforceConfig     `mapstructure:"salesforce"`
	Database       DatabaseConfig       `mapstructure:"database"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Management     ManagementConfig     `mapstructure:"management"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrokerConfig struct {
	Type       string           `mapstructure:"type"`
	ServiceBus ServiceBusConfig `mapstructure:"servicebus"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
}

type ServiceBusConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	SubscriptionName string `mapstructure:"subscription_name"`
	// EntityPath is derived from ConnectionString at load time.
	EntityPath string `mapstructure:"-"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	GroupID  string   `mapstructure:"group_id"`
	Topic    string   `mapstructure:"topic"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

type IntakeConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	MaxConcurrentCalls  int           `mapstructure:"max_concurrent_calls"`
	MaxDeliveryCount    int           `mapstructure:"max_delivery_count"`
	ReceiveBatchSize    int           `mapstructure:"receive_batch_size"`
	ReceiveErrorBackoff time.Duration `mapstructure:"receive_error_backoff"`
}

type SalesforceConfig struct {
	Enabled                bool             `mapstructure:"enabled"`
	BaseURL                string           `mapstructure:"base_url"`
	APIVersion             string           `mapstructure:"api_version"`
	Timeout                time.Duration    `mapstructure:"timeout"`
	AllOrNone              bool             `mapstructure:"all_or_none"`
	AccountExternalIDField string           `mapstructure:"account_external_id_field"`
	ContactExternalIDField string           `mapstructure:"contact_external_id_field"`
	Auth                   AuthConfig       `mapstructure:"auth"`
	TokenStore             TokenStoreConfig `mapstructure:"token_store"`
}

type AuthConfig struct {
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	RefreshSkew  time.Duration `mapstructure:"refresh_skew"`
}

type TokenStoreConfig struct {
	Type      string `mapstructure:"type"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
