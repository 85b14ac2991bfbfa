package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chain access
var (
	ChainRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_chain_retries_total",
			Help: "Chain calls retried after a failed attempt, by operation",
		},
		[]string{"op"},
	)

	ChainCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paygate_chain_call_duration_seconds",
			Help:    "Wall time of a chain call including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Authorization
var (
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_authorization_decisions_total",
			Help: "Authorization decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)
)

// Yield accounting
var (
	YieldSnapshots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_yield_snapshots_total",
			Help: "Wallet snapshots taken by the watcher, by result",
		},
		[]string{"result"},
	)
)
