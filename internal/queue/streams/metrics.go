package streams

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	streamMetricsOnce sync.Once
	eventsPublished   otelmetric.Int64Counter
	eventsFailed      otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("deepresearch/queue/streams")
	var err error
	eventsPublished, err = meter.Int64Counter(
		"stream_events_published_total",
		otelmetric.WithDescription("Envelopes appended to Redis streams"),
	)
	if err != nil {
		zap.L().Warn("stream metrics init", zap.String("instrument", "stream_events_published_total"), zap.Error(err))
	}
	eventsFailed, err = meter.Int64Counter(
		"stream_events_failed_total",
		otelmetric.WithDescription("Envelopes that failed validation or XADD"),
	)
	if err != nil {
		zap.L().Warn("stream metrics init", zap.String("instrument", "stream_events_failed_total"), zap.Error(err))
	}
}

func recordPublish(ctx context.Context, stream, eventType string, err error) {
	streamMetricsOnce.Do(initStreamMetrics)
	attrs := otelmetric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("event_type", eventType),
	)
	if ctx == nil {
		ctx = context.Background()
	}
	if err != nil {
		if eventsFailed != nil {
			eventsFailed.Add(ctx, 1, attrs)
		}
		return
	}
	if eventsPublished != nil {
		eventsPublished.Add(ctx, 1, attrs)
	}
}
