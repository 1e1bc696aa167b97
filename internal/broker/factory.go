package broker

import (
	"fmt"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
)

func NewSource(cfg config.BrokerConfig, log logger.Logger) (Source, error) {
	switch cfg.Type {
	case config.BrokerServiceBus:
		return NewServiceBusSource(cfg.ServiceBus, log)
	case config.BrokerKafka:
		return NewKafkaSource(cfg.Kafka, log), nil
	case config.BrokerMemory:
		return NewMemorySource("memory", "local"), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
