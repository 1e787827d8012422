package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects simulator counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	Executions      *prometheus.CounterVec
	PendingActions  *prometheus.GaugeVec
	FillLatency     *prometheus.HistogramVec
}

// NewMetrics creates and registers the simulator metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papersim_orders_submitted_total",
				Help: "Orders accepted for simulation.",
			},
			[]string{"simulator", "symbol", "side", "type"},
		),
		OrdersRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papersim_orders_rejected_total",
				Help: "Orders rejected by validation or risk checks.",
			},
			[]string{"simulator", "reason"},
		),
		OrdersCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papersim_orders_cancelled_total",
				Help: "Orders whose cancellation became effective.",
			},
			[]string{"simulator"},
		),
		Executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papersim_executions_total",
				Help: "Fills applied to orders.",
			},
			[]string{"simulator", "symbol"},
		),
		PendingActions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "papersim_pending_actions",
				Help: "Scheduled actions not yet effective.",
			},
			[]string{"simulator"},
		),
		FillLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "papersim_fill_latency_seconds",
				Help:    "Simulated latency drawn for fills.",
				Buckets: []float64{0, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1},
			},
			[]string{"simulator"},
		),
	}

	registry.MustRegister(m.OrdersSubmitted, m.OrdersRejected, m.OrdersCancelled, m.Executions, m.PendingActions, m.FillLatency)
	return m
}

func (m *Metrics) ObserveSubmit(simulator, symbol, side, orderType string) {
	if m == nil {
		return
	}
	m.OrdersSubmitted.WithLabelValues(simulator, symbol, side, orderType).Inc()
}

func (m *Metrics) ObserveReject(simulator, reason string) {
	if m == nil {
		return
	}
	m.OrdersRejected.WithLabelValues(simulator, reason).Inc()
}

func (m *Metrics) ObserveCancel(simulator string) {
	if m == nil {
		return
	}
	m.OrdersCancelled.WithLabelValues(simulator).Inc()
}

func (m *Metrics) ObserveExecution(simulator, symbol string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(simulator, symbol).Inc()
}

func (m *Metrics) ObserveFillLatency(simulator string, d time.Duration) {
	if m == nil {
		return
	}
	m.FillLatency.WithLabelValues(simulator).Observe(d.Seconds())
}

func (m *Metrics) SetPendingActions(simulator string, n int) {
	if m == nil {
		return
	}
	m.PendingActions.WithLabelValues(simulator).Set(float64(n))
}
