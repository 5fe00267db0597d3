package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionrun_provider_calls_total",
		Help: "Outbound provider calls by group, tool, and outcome",
	}, []string{"group", "tool", "outcome"})

	callLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optionrun_provider_call_seconds",
		Help:    "Latency of outbound provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"group", "tool"})

	budgetBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optionrun_budget_blocks_total",
		Help: "Times a caller blocked on the per-run call budget cooldown",
	})

	breakerOpen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionrun_breaker_open_total",
		Help: "Circuit breaker open transitions by provider group",
	}, []string{"group"})
)
