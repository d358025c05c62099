// Package metrics holds the Prometheus collectors of the broadcast engine.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remindbot"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	deliveriesTotal       prometheus.Counter
	deliveryFailuresTotal *prometheus.CounterVec
	runsTotal             *prometheus.CounterVec
	runDuration           prometheus.Histogram
	inflightRecipients    prometheus.Gauge
	subscribers           prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		deliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of reminder messages delivered.",
		}),
		deliveryFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Recipients abandoned during a broadcast run, by reason.",
		}, []string{"reason"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_runs_total",
			Help:      "Broadcast runs by result (completed, skipped).",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_run_duration_seconds",
			Help:      "Wall time of completed broadcast runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		inflightRecipients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_inflight_recipients",
			Help:      "Recipients currently being served by a broadcast run.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Subscribers in the snapshot of the latest broadcast run.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deliveriesTotal,
		m.deliveryFailuresTotal,
		m.runsTotal,
		m.runDuration,
		m.inflightRecipients,
		m.subscribers,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DeliveryOK() {
	if m == nil {
		return
	}
	m.deliveriesTotal.Inc()
}

func (m *Metrics) DeliveryFailed(reason string) {
	if m == nil {
		return
	}
	reason = strings.TrimSpace(strings.ToLower(reason))
	if reason == "" {
		reason = "unknown"
	}
	m.deliveryFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RunCompleted(d time.Duration, recipients int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues("completed").Inc()
	m.runDuration.Observe(max(d.Seconds(), 0))
	m.subscribers.Set(float64(recipients))
}

func (m *Metrics) RunSkipped() {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues("skipped").Inc()
}

func (m *Metrics) InflightAdd(delta int) {
	if m == nil {
		return
	}
	m.inflightRecipients.Add(float64(delta))
}
