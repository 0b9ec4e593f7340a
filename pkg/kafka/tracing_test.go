package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_SetGetKeys(t *testing.T) {
	headers := []kafka.Header{{Key: "event_type", Value: []byte("order.placed")}}
	c := NewHeaderCarrier(&headers)

	assert.Equal(t, "order.placed", c.Get("event_type"))
	assert.Empty(t, c.Get("missing"))

	c.Set("traceparent", "00-abc-def-01")
	c.Set("event_type", "order.cart_cleanup_failed")

	assert.Equal(t, "order.cart_cleanup_failed", c.Get("event_type"))
	assert.ElementsMatch(t, []string{"event_type", "traceparent"}, c.Keys())
	assert.Len(t, headers, 2)
}

func TestInjectTraceContext_WritesTraceparent(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	var msg kafka.Message
	InjectTraceContext(ctx, &msg)

	assert.Equal(t,
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		NewHeaderCarrier(&msg.Headers).Get("traceparent"))
}
