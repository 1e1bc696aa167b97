package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/broker"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/metrics"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

func newTestSubscription(source broker.Source, fw Forwarder, maxConcurrent int) *Subscription {
	p := NewProcessor(ProcessorConfig{
		EntityPath:         source.EntityPath(),
		MaxDeliveryCount:   3,
		IntegrationEnabled: true,
	}, &stubTransformer{}, fw, logger.NopLogger())

	return NewSubscription(SubscriptionConfig{
		Enabled:             true,
		MaxConcurrentCalls:  maxConcurrent,
		ReceiveErrorBackoff: 10 * time.Millisecond,
	}, source, p, logger.NopLogger())
}

func TestSubscription_NotStartedWhenDisabledOrUnconfigured(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		source  broker.Source
	}{
		{name: "disabled", enabled: false, source: broker.NewMemorySource("topic", "sub")},
		{name: "missing entity path", enabled: true, source: broker.NewMemorySource("", "sub")},
		{name: "missing subscription", enabled: true, source: broker.NewMemorySource("topic", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSubscription(SubscriptionConfig{Enabled: tt.enabled, MaxConcurrentCalls: 1}, tt.source, nil, logger.NopLogger())

			require.NoError(t, s.Start(context.Background()))
			assert.False(t, s.Running())
			assert.NoError(t, s.Stop(context.Background()))
		})
	}
}

func TestSubscription_ProcessesMessages(t *testing.T) {
	source := broker.NewMemorySource("sub-process", "bridge")
	fw := &stubForwarder{}
	s := newTestSubscription(source, fw, 2)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())

	for i := 0; i < 5; i++ {
		source.Publish(models.InboundMessage{MessageID: fmt.Sprintf("m-%d", i), Body: `{}`})
	}

	require.Eventually(t, func() bool {
		return len(source.Settlements()) == 5
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())

	for _, settlement := range source.Settlements() {
		assert.Equal(t, broker.ActionComplete, settlement.Action)
	}
	assert.Equal(t, int32(5), fw.calls.Load())
}

func TestSubscription_RedeliversUntilDeadLettered(t *testing.T) {
	source := broker.NewMemorySource("sub-redeliver", "bridge")
	fw := &stubForwarder{err: errors.New("connection reset")}
	s := newTestSubscription(source, fw, 1)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	source.Publish(models.InboundMessage{MessageID: "m-1", Body: `{}`})

	require.Eventually(t, func() bool {
		settlements := source.Settlements()
		return len(settlements) > 0 && settlements[len(settlements)-1].Action == broker.ActionDeadLetter
	}, 2*time.Second, 10*time.Millisecond)

	settlements := source.Settlements()
	require.Len(t, settlements, 3)
	assert.Equal(t, broker.ActionAbandon, settlements[0].Action)
	assert.Equal(t, broker.ActionAbandon, settlements[1].Action)
	assert.Equal(t, 2, settlements[2].DeliveryCount)
	assert.Equal(t, ReasonUnknown, settlements[2].Options.Reason)
}

type gatedForwarder struct {
	release chan struct{}

	mu      sync.Mutex
	current int
	peak    int
	calls   atomic.Int32
}

func (g *gatedForwarder) Forward(ctx context.Context, req *models.CompositeRequest) (*models.CompositeResponse, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	g.mu.Unlock()

	<-g.release

	g.mu.Lock()
	g.current--
	g.mu.Unlock()
	return &models.CompositeResponse{CompositeResponse: []models.SubResponse{{HTTPStatusCode: 200}}}, nil
}

func (g *gatedForwarder) peakConcurrency() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func TestSubscription_ConcurrencyCeiling(t *testing.T) {
	const maxConcurrent = 3
	source := broker.NewMemorySource("sub-ceiling", "bridge")
	fw := &gatedForwarder{release: make(chan struct{})}
	s := newTestSubscription(source, fw, maxConcurrent)

	require.NoError(t, s.Start(context.Background()))

	for i := 0; i < 10; i++ {
		source.Publish(models.InboundMessage{MessageID: fmt.Sprintf("m-%d", i), Body: `{}`})
	}

	require.Eventually(t, func() bool {
		return fw.calls.Load() == maxConcurrent
	}, 2*time.Second, 5*time.Millisecond)

	// Nothing else may start while the ceiling is reached.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(maxConcurrent), fw.calls.Load())

	close(fw.release)
	require.Eventually(t, func() bool {
		return len(source.Settlements()) == 10
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.LessOrEqual(t, fw.peakConcurrency(), maxConcurrent)
}

func TestSubscription_StopIsIdempotent(t *testing.T) {
	source := broker.NewMemorySource("sub-stop", "bridge")
	s := newTestSubscription(source, &stubForwarder{}, 1)

	assert.NoError(t, s.Stop(context.Background()), "stop before start")

	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
}

type failingReceiver struct {
	broker.Receiver
	failures atomic.Int32
}

func (r *failingReceiver) Receive(ctx context.Context, maxMessages int) ([]*broker.Message, error) {
	if r.failures.Add(-1) >= 0 {
		return nil, &broker.SourceError{Source: "memory", Code: "connection_lost", Err: errors.New("link detached")}
	}
	return r.Receiver.Receive(ctx, maxMessages)
}

type failingSource struct {
	*broker.MemorySource
	failures int32
	openErr  error
}

func (s *failingSource) NewReceiver(ctx context.Context) (broker.Receiver, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	inner, err := s.MemorySource.NewReceiver(ctx)
	if err != nil {
		return nil, err
	}
	r := &failingReceiver{Receiver: inner}
	r.failures.Store(s.failures)
	return r, nil
}

func TestSubscription_ReceiveErrorsAreReportedAndRetried(t *testing.T) {
	const entityPath = "sub-receive-error"
	source := &failingSource{MemorySource: broker.NewMemorySource(entityPath, "bridge"), failures: 2}
	s := newTestSubscription(source, &stubForwarder{}, 1)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	source.Publish(models.InboundMessage{MessageID: "m-1", Body: `{}`})

	require.Eventually(t, func() bool {
		return len(source.Settlements()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SourceErrorsTotal.WithLabelValues(entityPath, "memory_connection_lost")))
}

func TestSubscription_StartFailsWhenReceiverCannotOpen(t *testing.T) {
	source := &failingSource{
		MemorySource: broker.NewMemorySource("sub-open-error", "bridge"),
		openErr:      errors.New("namespace not found"),
	}
	s := newTestSubscription(source, &stubForwarder{}, 1)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.False(t, s.Running())
	assert.NoError(t, s.Stop(context.Background()))
}
