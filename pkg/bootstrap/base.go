package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/broker"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
)

// Base holds the shared resources every service entrypoint wires up.
type Base struct {
	Config *config.Config
	Logger logger.Logger
	Source broker.Source
	Redis  *redis.Client
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker builds the message source. A source without a connection
// string is still returned; the subscription decides whether to start.
func (b *Base) InitBroker() error {
	source, err := broker.NewSource(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create message source: %w", err)
	}
	b.Source = source
	return nil
}

// InitRedis connects only when the token store is redis-backed.
func (b *Base) InitRedis(ctx context.Context) error {
	if b.Config.Salesforce.TokenStore.Type != config.TokenStoreRedis {
		return nil
	}

	redisCfg := b.Config.Database.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", redisCfg.Host, redisCfg.Port),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	b.Logger.Info("Redis connected successfully")
	b.Redis = rdb
	return nil
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	// The source is closed by the subscription that owns it, inside
	// additionalShutdown.
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
