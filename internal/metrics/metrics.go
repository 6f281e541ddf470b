// Package metrics registers the Prometheus series the executor exposes on
// /metrics: execution outcomes, unwind/liquidation activity, deployed
// notional, realized PnL, and per-leg fill latency. Unwind, liquidation,
// notional and latency series carry a venue label so a dashboard can split
// them across Polymarket and Kalshi; executions are labelled by status,
// realized PnL by outcome, and daily PnL is a single unlabelled gauge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_executions_total",
			Help: "Box executions attempted, labelled by terminal status.",
		},
		[]string{"status"},
	)

	unwindsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_unwinds_total",
			Help: "Stranded-leg unwind attempts, labelled by venue and outcome.",
		},
		[]string{"venue", "success"},
	)

	liquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_liquidations_total",
			Help: "Pre-close/risk-triggered liquidation slices sold, labelled by venue and side.",
		},
		[]string{"venue", "side"},
	)

	notionalDeployed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arb_notional_deployed_usd",
			Help: "Current total notional committed across pending boxes.",
		},
		[]string{"venue"},
	)

	dailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arb_daily_pnl_usd",
			Help: "Running realized + unwind PnL for the current trading day.",
		},
	)

	realizedPnLTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_realized_pnl_usd_total",
			Help: "Cumulative realized PnL from settled boxes, labelled by outcome.",
		},
		[]string{"outcome"}, // profit|loss
	)

	legFillLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arb_leg_fill_latency_seconds",
			Help:    "Time from order submission to fill confirmation for one leg.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"venue"},
	)

	quoteStaleness = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arb_quote_staleness_seconds",
			Help: "Age of the last quote update used for a venue's opportunity scan.",
		},
		[]string{"venue"},
	)
)

func init() {
	prometheus.MustRegister(executionsTotal, unwindsTotal, liquidationsTotal)
	prometheus.MustRegister(notionalDeployed, dailyPnL, realizedPnLTotal)
	prometheus.MustRegister(legFillLatency, quoteStaleness)
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExecution records one execute_opportunity terminal status.
func ObserveExecution(status string) {
	executionsTotal.WithLabelValues(status).Inc()
}

// ObserveUnwind records one stranded-leg unwind attempt's outcome.
func ObserveUnwind(venue string, success bool) {
	unwindsTotal.WithLabelValues(venue, boolLabel(success)).Inc()
}

// ObserveLiquidation records one liquidation slice sold.
func ObserveLiquidation(venue, side string) {
	liquidationsTotal.WithLabelValues(venue, side).Inc()
}

// SetNotionalDeployed reports the current committed notional for a venue.
func SetNotionalDeployed(venue string, usd float64) {
	notionalDeployed.WithLabelValues(venue).Set(usd)
}

// SetDailyPnL reports the running daily realized+unwind PnL.
func SetDailyPnL(usd float64) {
	dailyPnL.Set(usd)
}

// ObserveRealizedPnL adds a settled box's PnL to the cumulative counter,
// split into the profit or loss series by sign.
func ObserveRealizedPnL(usd float64) {
	if usd >= 0 {
		realizedPnLTotal.WithLabelValues("profit").Add(usd)
	} else {
		realizedPnLTotal.WithLabelValues("loss").Add(-usd)
	}
}

// ObserveLegFillLatency records the submit-to-fill duration for one leg.
func ObserveLegFillLatency(venue string, seconds float64) {
	legFillLatency.WithLabelValues(venue).Observe(seconds)
}

// SetQuoteStaleness reports how old the last quote used for a scan was.
func SetQuoteStaleness(venue string, seconds float64) {
	quoteStaleness.WithLabelValues(venue).Set(seconds)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
