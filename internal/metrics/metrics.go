// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TxDuration tracks wall time of each game operation, retries included.
var TxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "tradepost",
	Subsystem: "game",
	Name:      "tx_duration_seconds",
	Help:      "Game operation latency including storage retries.",
	Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
}, []string{"op"})

// TxOutcomes counts operations by result ("ok" or an error kind).
var TxOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tradepost",
	Subsystem: "game",
	Name:      "operations_total",
	Help:      "Game operations by outcome.",
}, []string{"op", "outcome"})

// GoldMoved sums gold moved through the ledger by reason.
var GoldMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tradepost",
	Subsystem: "ledger",
	Name:      "gold_moved_total",
	Help:      "Gold moved through the ledger by reason.",
}, []string{"reason"})

// TxRetries counts serialization-failure retries in the storage layer.
var TxRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tradepost",
	Subsystem: "db",
	Name:      "tx_retries_total",
	Help:      "Transactions re-run after a serialization failure.",
})

// TxConflicts counts transactions abandoned after exhausting retries.
var TxConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tradepost",
	Subsystem: "db",
	Name:      "tx_conflicts_total",
	Help:      "Transactions abandoned after exhausting serialization retries.",
})

// ListingsExpired counts listings expired by the sweeper.
var ListingsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tradepost",
	Subsystem: "worker",
	Name:      "listings_expired_total",
	Help:      "Listings expired by the background sweep.",
})

// FeedSubscribers is the number of connected feed clients.
var FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tradepost",
	Subsystem: "feed",
	Name:      "subscribers",
	Help:      "Connected live feed subscribers.",
})

// FeedDropped counts events dropped for slow subscribers.
var FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tradepost",
	Subsystem: "feed",
	Name:      "dropped_total",
	Help:      "Events dropped because a subscriber buffer was full.",
})
