// Package engine – Prometheus metrics for observability.
//
// Exposes the metrics the engine updates while a run executes:
//   • backsim_orders_total{status}      – Orders counted by lifecycle status
//   • backsim_fills_total               – Fill events produced by simulation
//   • backsim_equity                    – Current total equity snapshot (gauge)
//   • backsim_risk_events_total{type}   – Risk events by type (daily_loss_limit|max_drawdown)
//   • backsim_risk_rejections_total     – Signals dropped by pre-trade gates
//
// These are registered in init() and served by the HTTP handler started in
// cmd/main.go at /metrics (Prometheus text exposition format).

package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backsim_orders_total",
			Help: "Orders counted by lifecycle status",
		},
		[]string{"status"},
	)

	mtxFills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backsim_fills_total",
			Help: "Fill events produced by simulation",
		},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backsim_equity",
			Help: "Total equity in quote currency",
		},
	)

	mtxRiskEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backsim_risk_events_total",
			Help: "Risk events split by type",
		},
		[]string{"type"}, // daily_loss_limit|max_drawdown
	)

	mtxRiskRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backsim_risk_rejections_total",
			Help: "Signals dropped by pre-trade risk gates",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxFills, mtxEquity)
	prometheus.MustRegister(mtxRiskEvents, mtxRiskRejections)
}
