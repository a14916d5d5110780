package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	httpLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"route"},
	)

	completionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_completion_tokens_total",
			Help: "Tokens reported to clients by response mode and category",
		},
		[]string{"mode", "category"},
	)
)
