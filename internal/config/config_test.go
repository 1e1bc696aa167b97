package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "entity path present",
			input: "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=s;EntityPath=case-events;",
			want:  "case-events",
		},
		{
			name:  "entity path without trailing separator",
			input: "Endpoint=sb://ns.servicebus.windows.net/;EntityPath=case-events",
			want:  "case-events",
		},
		{
			name:  "key is case insensitive",
			input: "Endpoint=sb://ns/;entitypath=topic-a;",
			want:  "topic-a",
		},
		{
			name:    "entity path missing",
			input:   "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=s",
			wantErr: true,
		},
		{
			name:    "entity path empty",
			input:   "Endpoint=sb://ns/;EntityPath=;",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntityPath(tt.input)
			if tt.wantErr {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "broker.servicebus.connection_string", ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BrokerServiceBus, cfg.Broker.Type)
	assert.Equal(t, 10, cfg.Intake.MaxDeliveryCount)
	assert.Equal(t, 5*time.Second, cfg.Intake.ReceiveErrorBackoff)
	assert.Equal(t, 10*time.Second, cfg.Salesforce.Timeout)
	assert.Equal(t, TokenStoreMemory, cfg.Salesforce.TokenStore.Type)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadConfig_EntityPathFromEnv(t *testing.T) {
	t.Setenv("SERVICE_BUS_CONNECTION_STRING", "Endpoint=sb://ns/;SharedAccessKeyName=k;SharedAccessKey=s;EntityPath=case-events;")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "case-events", cfg.Broker.ServiceBus.EntityPath)
}

func TestLoadConfig_MissingEntityPathIsFatal(t *testing.T) {
	t.Setenv("SERVICE_BUS_CONNECTION_STRING", "Endpoint=sb://ns/;SharedAccessKeyName=k;SharedAccessKey=s")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EntityPath")
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
intake:
  enabled: true
  max_concurrent_calls: 8
  max_delivery_count: 4
broker:
  type: kafka
  kafka:
    brokers: ["localhost:9092"]
    group_id: bridge
    topic: case-events
    dlq_topic: case-events-dlq
salesforce:
  enabled: true
  base_url: https://example.my.salesforce.com
  auth:
    token_url: https://login.salesforce.com/services/oauth2/token
    client_id: abc
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Intake.MaxConcurrentCalls)
	assert.Equal(t, 4, cfg.Intake.MaxDeliveryCount)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "case-events-dlq", cfg.Broker.Kafka.DLQTopic)
	assert.Equal(t, "https://example.my.salesforce.com", cfg.Salesforce.BaseURL)
}

func TestValidateStatic_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 0, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
		Broker: BrokerConfig{Type: "rabbitmq"},
		Intake: IntakeConfig{MaxConcurrentCalls: 0, MaxDeliveryCount: 1},
		Retry:  RetryConfig{MaxAttempts: 3, Multiplier: 2},
	}

	err := ValidateStatic(cfg)
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ve *ValidationError
		if errors.As(e, &ve) {
			fields = append(fields, ve.Field)
		}
	}
	assert.ElementsMatch(t, []string{"server.port", "broker.type", "intake.max_concurrent_calls"}, fields)
}

func TestValidateStatic_SalesforceEnabledRequiresEndpoints(t *testing.T) {
	cfg := &Config{
		Server:     ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
		Broker:     BrokerConfig{Type: BrokerServiceBus},
		Intake:     IntakeConfig{MaxConcurrentCalls: 1, MaxDeliveryCount: 1},
		Salesforce: SalesforceConfig{Enabled: true, Timeout: time.Second},
		Retry:      RetryConfig{MaxAttempts: 3, Multiplier: 2},
	}

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce.base_url")
	assert.Contains(t, err.Error(), "salesforce.auth.token_url")
	assert.Contains(t, err.Error(), "salesforce.auth.client_id")
}
