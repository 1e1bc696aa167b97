package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/api"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/intake"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/salesforce"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/transform"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/bootstrap"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/circuitbreaker"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/health"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/metrics"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/ratelimit"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/retry"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/tracing"
)

type App struct {
	*bootstrap.Base

	subscription   *intake.Subscription
	breaker        *circuitbreaker.Wrapper
	limiter        *ratelimit.Limiter
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{Base: bootstrap.NewBase(cfg, log)}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIntakeMetrics()
	metrics.RegisterForwardMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterAPIMetrics()

	if err := a.InitBroker(); err != nil {
		return err
	}
	if err := a.InitRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize token store: %w", err)
	}

	entityPath := a.Source.EntityPath()
	client := a.newSalesforceClient()
	forwarder := salesforce.NewForwarder(client, entityPath, a.Logger)
	transformer := transform.FromSettings(a.Config.Salesforce)

	processor := intake.NewProcessor(intake.ProcessorConfig{
		EntityPath:         entityPath,
		MaxDeliveryCount:   a.Config.Intake.MaxDeliveryCount,
		Integration:        constants.IntegrationSalesforce,
		IntegrationEnabled: a.Config.Salesforce.Enabled,
	}, transformer, forwarder, a.Logger)

	a.subscription = intake.NewSubscription(
		intake.SubscriptionConfigFromSettings(a.Config.Intake),
		a.Source,
		processor,
		a.Logger,
	)

	handler := api.NewHandler(api.HandlerConfig{
		IntegrationEnabled: a.Config.Salesforce.Enabled,
		Retry:              retry.FromSettings(a.Config.Retry),
	}, transformer, forwarder, client, a.Logger)

	if a.Config.Management.RateLimit.Enabled {
		a.limiter = ratelimit.NewLimiter(ratelimit.FromSettings(a.Config.Management.RateLimit))
	}

	router := api.NewRouter(handler, api.RouterOptions{
		Tracing:   a.Config.Tracing.Enabled,
		RateLimit: a.limiter,
		Health:    a.healthRegistry(),
	}, a.Logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) newSalesforceClient() *salesforce.Client {
	sf := a.Config.Salesforce

	var store salesforce.TokenStore
	if a.Redis != nil {
		store = salesforce.NewRedisTokenStore(a.Redis, sf.TokenStore.KeyPrefix+"salesforce:token")
	}

	tokens := salesforce.NewTokenProvider(
		salesforce.NewClientCredentialsSource(sf.Auth, &http.Client{Timeout: constants.TokenRequestTimeout}),
		store,
		sf.Auth.RefreshSkew,
		a.Logger,
	)

	a.breaker = salesforce.NewBreaker(a.Config.CircuitBreaker)
	return salesforce.NewClient(salesforce.ClientConfigFromSettings(sf), tokens, a.breaker, a.Logger)
}

func (a *App) healthRegistry() *health.CheckerRegistry {
	registry := health.NewCheckerRegistry()
	if a.Redis != nil {
		registry.Register(health.NewRedisChecker(a.Redis))
	}
	if a.breaker != nil {
		registry.RegisterOptional(health.NewFuncChecker("salesforce_circuit", func(ctx context.Context) error {
			if a.breaker.IsOpen() {
				return errors.New("circuit breaker open")
			}
			return nil
		}))
	}
	if a.Config.Intake.Enabled {
		registry.RegisterOptional(health.NewFuncChecker("intake", func(ctx context.Context) error {
			if !a.subscription.Running() {
				return errors.New("subscription not running")
			}
			return nil
		}))
	}
	return registry
}

// Run serves the API and the subscription until ctx is cancelled, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.RunCleanup(gctx)
			return nil
		})
	}

	if err := a.subscription.Start(gctx); err != nil {
		// The API stays up; the intake health check reports the failure.
		a.Logger.ErrorwCtx(gctx, "Subscription failed to start", "error", err)
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops intake before the HTTP server so in-flight messages can
// still be settled, then releases shared resources.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	err := a.Base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error
		if a.subscription != nil {
			if err := a.subscription.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("subscription stop error: %w", err))
			}
		} else if a.Source != nil {
			if err := a.Source.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("message source close error: %w", err))
			}
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}
		return errs
	})
	if err != nil {
		errs = append(errs, err)
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	return errors.Join(errs...)
}
