package sandbox

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	runsCounter     otelmetric.Int64Counter
	rejectedCounter otelmetric.Int64Counter
	durationHist    otelmetric.Float64Histogram
	memoryHist      otelmetric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter("deepresearch/sandbox")
	runsCounter, _ = meter.Int64Counter(
		"sandbox_runs_total",
		otelmetric.WithDescription("Sandboxed code executions by outcome"),
	)
	rejectedCounter, _ = meter.Int64Counter(
		"sandbox_rejected_total",
		otelmetric.WithDescription("Snippets rejected before execution"),
	)
	durationHist, _ = meter.Float64Histogram(
		"sandbox_run_seconds",
		otelmetric.WithDescription("Wall time of sandboxed executions"),
		otelmetric.WithUnit("s"),
	)
	memoryHist, _ = meter.Float64Histogram(
		"sandbox_policy_memory_bytes",
		otelmetric.WithDescription("Memory budget declared by the sandbox policy"),
		otelmetric.WithUnit("By"),
	)
}

func recordRun(ctx context.Context, outcome string, seconds float64, policy *Policy) {
	metricsOnce.Do(initMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	if runsCounter != nil {
		runsCounter.Add(ctx, 1, attrs)
	}
	if durationHist != nil {
		durationHist.Record(ctx, seconds, attrs)
	}
	if memoryHist != nil {
		if b := parseMemoryBytes(policy.Memory); b > 0 {
			memoryHist.Record(ctx, b)
		}
	}
}

func recordRejected(ctx context.Context, reason string) {
	metricsOnce.Do(initMetrics)
	if rejectedCounter != nil {
		rejectedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
	}
}
