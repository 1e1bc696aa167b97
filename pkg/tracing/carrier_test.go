package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const sampleTraceParent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestExtractFromProperties(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx := ExtractFromProperties(context.Background(), map[string]any{
		"traceparent": sampleTraceParent,
	})

	sc := trace.SpanContextFromContext(ctx)
	assert.True(t, sc.IsRemote())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
}

func TestExtractFromProperties_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractFromProperties(ctx, nil))
}

func TestInjectKafkaHeaders_RoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	remote := ExtractFromProperties(context.Background(), map[string]any{"traceparent": sampleTraceParent})
	headers := InjectKafkaHeaders(remote, []kafka.Header{{Key: "x-delivery-count", Value: []byte("1")}})

	carrier := &kafkaHeaderCarrier{headers: headers}
	assert.Equal(t, sampleTraceParent, carrier.Get("traceparent"))
	assert.Equal(t, "1", carrier.Get("x-delivery-count"))
}
