package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/broker"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/metrics"
)

type SubscriptionConfig struct {
	Enabled             bool
	MaxConcurrentCalls  int
	ReceiveBatchSize    int
	ReceiveErrorBackoff time.Duration
}

func SubscriptionConfigFromSettings(cfg config.IntakeConfig) SubscriptionConfig {
	return SubscriptionConfig{
		Enabled:             cfg.Enabled,
		MaxConcurrentCalls:  cfg.MaxConcurrentCalls,
		ReceiveBatchSize:    cfg.ReceiveBatchSize,
		ReceiveErrorBackoff: cfg.ReceiveErrorBackoff,
	}
}

// Subscription owns the receiver for one entity path and feeds received
// messages to the processor on a bounded pool.
type Subscription struct {
	cfg       SubscriptionConfig
	source    broker.Source
	processor *Processor
	logger    logger.Logger

	mu       sync.Mutex
	running  bool
	receiver broker.Receiver
	cancel   context.CancelFunc
	done     chan struct{}

	closeSource sync.Once
}

func NewSubscription(cfg SubscriptionConfig, source broker.Source, processor *Processor, log logger.Logger) *Subscription {
	if cfg.MaxConcurrentCalls < 1 {
		cfg.MaxConcurrentCalls = 1
	}
	if cfg.ReceiveBatchSize < 1 || cfg.ReceiveBatchSize > cfg.MaxConcurrentCalls {
		cfg.ReceiveBatchSize = cfg.MaxConcurrentCalls
	}
	if cfg.ReceiveErrorBackoff <= 0 {
		cfg.ReceiveErrorBackoff = 5 * time.Second
	}
	return &Subscription{
		cfg:       cfg,
		source:    source,
		processor: processor,
		logger:    log,
	}
}

func (s *Subscription) entityPath() string {
	if s.source == nil {
		return ""
	}
	return s.source.EntityPath()
}

// Start opens the receiver and launches the dispatch loop. A disabled or
// unconfigured subscription logs and returns nil without starting.
func (s *Subscription) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Infow("Intake disabled by configuration, subscription not started")
		return nil
	}
	if s.source == nil || s.source.EntityPath() == "" || s.source.SubscriptionName() == "" {
		s.logger.Warnw("Intake connection parameters missing, subscription not started",
			"entity_path", s.entityPath(),
		)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	receiver, err := s.source.NewReceiver(ctx)
	if err != nil {
		s.processError(ctx, err)
		return fmt.Errorf("failed to open receiver for %s: %w", s.source.EntityPath(), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.receiver = receiver
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(loopCtx, receiver, s.done)

	s.logger.Infow("Subscription started",
		"source", s.source.Name(),
		"entity_path", s.source.EntityPath(),
		"subscription", s.source.SubscriptionName(),
		"max_concurrent_calls", s.cfg.MaxConcurrentCalls,
	)
	return nil
}

func (s *Subscription) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Subscription) run(ctx context.Context, receiver broker.Receiver, done chan struct{}) {
	defer close(done)

	// In-flight messages finish even after Stop cancels the loop.
	taskCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentCalls)
	defer g.Wait()

	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := receiver.Receive(ctx, s.cfg.ReceiveBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.processError(ctx, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ReceiveErrorBackoff):
			}
			continue
		}

		for _, msg := range messages {
			msg := msg
			g.Go(func() error {
				s.processor.Process(taskCtx, msg, receiver)
				return nil
			})
		}
	}
}

// processError handles failures not tied to a single message.
func (s *Subscription) processError(ctx context.Context, err error) {
	class := Classify(err)
	metrics.IncSourceError(s.entityPath(), class.Reason)
	s.logger.ErrorwCtx(ctx, "Message source error",
		"entity_path", s.entityPath(),
		"reason", class.Reason,
		"retryable", class.Retryable,
		"error", err,
	)
}

// Stop ends the dispatch loop, waits for in-flight messages, then closes
// the receiver and the source client. It is safe to call more than once
// and when Start never ran.
func (s *Subscription) Stop(ctx context.Context) error {
	s.mu.Lock()
	running, cancel, done, receiver := s.running, s.cancel, s.done, s.receiver
	s.running = false
	s.receiver = nil
	s.mu.Unlock()

	var errs []error
	if running {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for in-flight messages: %w", ctx.Err()))
		}
		if err := receiver.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("receiver close error: %w", err))
		}
		s.logger.Infow("Subscription stopped", "entity_path", s.entityPath())
	}

	if s.source != nil {
		s.closeSource.Do(func() {
			if err := s.source.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("source close error: %w", err))
			}
		})
	}
	return errors.Join(errs...)
}
