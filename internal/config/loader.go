package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configFile (optional) plus the environment. An empty
// configFile loads defaults and environment only.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if cs := cfg.Broker.ServiceBus.ConnectionString; cs != "" {
		entityPath, err := ParseEntityPath(cs)
		if err != nil {
			return nil, err
		}
		cfg.Broker.ServiceBus.EntityPath = entityPath
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "10s")
	viper.SetDefault("server.write_timeout_seconds", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("tracing.service_name", "apha-integration-bridge")
	viper.SetDefault("tracing.sampler.type", "always")

	viper.SetDefault("broker.type", BrokerServiceBus)

	viper.SetDefault("intake.enabled", false)
	viper.SetDefault("intake.max_concurrent_calls", 5)
	viper.SetDefault("intake.max_delivery_count", 10)
	viper.SetDefault("intake.receive_batch_size", 5)
	viper.SetDefault("intake.receive_error_backoff", "5s")

	viper.SetDefault("salesforce.enabled", false)
	viper.SetDefault("salesforce.api_version", "v62.0")
	viper.SetDefault("salesforce.timeout", "10s")
	viper.SetDefault("salesforce.all_or_none", true)
	viper.SetDefault("salesforce.account_external_id_field", "APHA_External_Id__c")
	viper.SetDefault("salesforce.contact_external_id_field", "APHA_External_Id__c")
	viper.SetDefault("salesforce.auth.token_ttl", "1h")
	viper.SetDefault("salesforce.auth.refresh_skew", "60s")
	viper.SetDefault("salesforce.token_store.type", TokenStoreMemory)
	viper.SetDefault("salesforce.token_store.key_prefix", "apha-bridge:salesforce:token")

	viper.SetDefault("database.redis.host", "localhost")
	viper.SetDefault("database.redis.port", 6379)

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("circuit_breaker.min_requests", 5)

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_interval", "200ms")
	viper.SetDefault("retry.max_interval", "5s")
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.max_elapsed_time", "30s")

	viper.SetDefault("management.rate_limit.enabled", true)
	viper.SetDefault("management.rate_limit.rps", 10.0)
	viper.SetDefault("management.rate_limit.burst", 20)
	viper.SetDefault("management.rate_limit.cleanup_interval", "5m")
	viper.SetDefault("management.rate_limit.max_age", "10m")
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.servicebus.connection_string", "SERVICE_BUS_CONNECTION_STRING")
	viper.BindEnv("broker.servicebus.subscription_name", "SERVICE_BUS_SUBSCRIPTION_NAME")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.topic", "BROKER_KAFKA_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("intake.enabled", "INTAKE_ENABLED")
	viper.BindEnv("intake.max_concurrent_calls", "INTAKE_MAX_CONCURRENT_CALLS")
	viper.BindEnv("intake.max_delivery_count", "INTAKE_MAX_DELIVERY_COUNT")

	viper.BindEnv("salesforce.enabled", "SALESFORCE_ENABLED")
	viper.BindEnv("salesforce.base_url", "SALESFORCE_BASE_URL")
	viper.BindEnv("salesforce.api_version", "SALESFORCE_API_VERSION")
	viper.BindEnv("salesforce.auth.token_url", "SALESFORCE_TOKEN_URL")
	viper.BindEnv("salesforce.auth.client_id", "SALESFORCE_CLIENT_ID")
	viper.BindEnv("salesforce.auth.client_secret", "SALESFORCE_CLIENT_SECRET")
	viper.BindEnv("salesforce.token_store.type", "SALESFORCE_TOKEN_STORE_TYPE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides handles values viper cannot split on its own.
func applyEnvOverrides(cfg *Config) {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}

// ParseEntityPath extracts the EntityPath segment of a Service Bus
// connection string. Its absence is a configuration error.
func ParseEntityPath(connectionString string) (string, error) {
	for _, part := range strings.Split(connectionString, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.EqualFold(key, "EntityPath") {
			value = strings.TrimSpace(value)
			if value == "" {
				break
			}
			return value, nil
		}
	}
	return "", &ValidationError{
		Field:   "broker.servicebus.connection_string",
		Message: "connection string must contain EntityPath=<name>;",
	}
}
