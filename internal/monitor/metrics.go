package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the controller.
type Metrics struct {
	SignalsReceived  *prometheus.CounterVec
	SignalsAccepted  prometheus.Counter
	SignalsRejected  *prometheus.CounterVec
	PipelineFailures *prometheus.CounterVec
	OrdersSubmitted  *prometheus.CounterVec
	ExitsExecuted    *prometheus.CounterVec
	IngestLatency    prometheus.Histogram
	DecisionLatency  prometheus.Histogram
	SweepDuration    prometheus.Histogram
	QueueDepth       prometheus.Gauge
	OpenPositions    prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg. A nil registry
// uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SignalsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradepulse",
			Name:      "signals_received_total",
			Help:      "Webhook signals received, by source.",
		}, []string{"source"}),
		SignalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepulse",
			Name:      "signals_accepted_total",
			Help:      "Signals that produced an ENTER decision.",
		}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradepulse",
			Name:      "signals_rejected_total",
			Help:      "Signals rejected, by pipeline stage.",
		}, []string{"stage"}),
		PipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradepulse",
			Name:      "pipeline_failures_total",
			Help:      "Signals dropped before orchestration, by stage.",
		}, []string{"stage"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradepulse",
			Name:      "orders_submitted_total",
			Help:      "Orders submitted to the broker adapter, by side and status.",
		}, []string{"side", "status"}),
		ExitsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradepulse",
			Name:      "exits_executed_total",
			Help:      "Positions exited, by reason.",
		}, []string{"reason"}),
		IngestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradepulse",
			Name:      "ingest_latency_seconds",
			Help:      "Webhook receipt to enqueue latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		DecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradepulse",
			Name:      "decision_latency_seconds",
			Help:      "Entry orchestration latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradepulse",
			Name:      "exit_sweep_duration_seconds",
			Help:      "Duration of a full exit-worker sweep.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradepulse",
			Name:      "pipeline_queue_depth",
			Help:      "Signals waiting in the async orchestration queue.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradepulse",
			Name:      "open_positions",
			Help:      "Currently open positions.",
		}),
	}
	reg.MustRegister(
		m.SignalsReceived,
		m.SignalsAccepted,
		m.SignalsRejected,
		m.PipelineFailures,
		m.OrdersSubmitted,
		m.ExitsExecuted,
		m.IngestLatency,
		m.DecisionLatency,
		m.SweepDuration,
		m.QueueDepth,
		m.OpenPositions,
	)
	return m
}

// ObserveIngest records webhook handling latency.
func (m *Metrics) ObserveIngest(start time.Time) {
	m.IngestLatency.Observe(time.Since(start).Seconds())
}

// ObserveDecision records entry orchestration latency.
func (m *Metrics) ObserveDecision(start time.Time) {
	m.DecisionLatency.Observe(time.Since(start).Seconds())
}
