// Package telemetry exposes the research loop's prometheus metrics and its
// otel tracer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is shared by the loop components.
var Tracer trace.Tracer = otel.Tracer("deepresearch/agent")

var (
	// ActionsTotal counts executed actions by kind and outcome.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_actions_total",
			Help: "Executed loop actions by kind and outcome",
		},
		[]string{"action", "outcome"},
	)

	// ActionDuration observes executor wall time.
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_action_duration_seconds",
			Help:    "Executor wall time by action",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"action"},
	)

	// SubCallFailures counts isolated provider failures inside a step.
	SubCallFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_subcall_failures_total",
			Help: "Failed search/read/generation sub-calls",
		},
		[]string{"action"},
	)

	// Verdicts counts evaluation outcomes per criterion.
	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_evaluation_verdicts_total",
			Help: "Evaluation verdicts by criterion and outcome",
		},
		[]string{"criterion", "outcome"},
	)

	// BadAttempts counts rejected candidate answers.
	BadAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepresearch_bad_attempts_total",
		Help: "Candidate answers rejected by the evaluation gate",
	})

	// ForcedAnswers counts best-effort answers by reason.
	ForcedAnswers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_forced_answers_total",
			Help: "Answers accepted without passing the gate",
		},
		[]string{"reason"},
	)

	// SessionSteps observes loop iterations per session.
	SessionSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deepresearch_session_steps",
		Help:    "Loop steps per finished session",
		Buckets: prometheus.LinearBuckets(1, 3, 12),
	})

	// SessionTokens observes total tokens per session.
	SessionTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deepresearch_session_tokens",
		Help:    "Tokens spent per finished session",
		Buckets: prometheus.ExponentialBuckets(1000, 2, 12),
	})
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
	OutcomePass    = "pass"
	OutcomeFail    = "fail"
	OutcomeSkipped = "skipped"
)
