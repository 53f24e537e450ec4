// Package telemetry exposes Prometheus counters for engine activity.
// The /metrics endpoint is served by the API server; CLI runs still
// increment the counters so long-lived processes can scrape them.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BacktestsTotal counts completed backtest runs by outcome.
	BacktestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtrail_backtests_total",
			Help: "Completed backtest runs partitioned by outcome (ok, error).",
		},
		[]string{"outcome"},
	)

	// OrdersExecuted counts fills produced by the executor.
	OrdersExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtrail_orders_executed_total",
			Help: "Orders filled by the executor, partitioned by direction.",
		},
		[]string{"direction"},
	)

	// TradesClosed counts round trips booked by the portfolio.
	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtrail_trades_closed_total",
			Help: "Closed trades partitioned by exit reason.",
		},
		[]string{"reason"},
	)

	// RunDuration observes wall-clock seconds per backtest run.
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backtrail_run_duration_seconds",
			Help:    "Wall-clock duration of backtest runs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(BacktestsTotal, OrdersExecuted, TradesClosed, RunDuration)
}
