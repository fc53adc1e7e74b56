package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline's collectors. A nil *Metrics is valid and
// records nothing, so components can run without instrumentation in tests.
type Metrics struct {
	reg prometheus.Gatherer

	reconcileOps  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
	enqueued      *prometheus.CounterVec
	orders        *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		reconcileOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_operations_total",
				Help: "Queued operations processed by the reconciler, by type and result",
			},
			[]string{"type", "result"},
		),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_sweep_duration_seconds",
			Help:    "Duration of one reconciler sweep",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "write_queue_depth",
			Help: "Live operations in the write queue after the last sweep",
		}),
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "write_queue_enqueued_total",
				Help: "Operations deferred to the write queue, by type",
			},
			[]string{"type"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_processed_total",
				Help: "Create-order background jobs by outcome",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.reconcileOps, m.sweepDuration, m.queueDepth, m.enqueued, m.orders)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) OperationProcessed(kind, result string) {
	if m == nil {
		return
	}
	m.reconcileOps.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) SweepFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Enqueued(kind string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) OrderProcessed(outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome).Inc()
}
