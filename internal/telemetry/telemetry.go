// Package telemetry exposes local, opt-in Prometheus metrics for the offline data layer.
//
// Nothing is pushed anywhere. When enabled, metrics are served for scraping on the
// desktop bridge's /metrics route; when disabled every recording call is a no-op.
package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kimhsiao/fieldcount/backend/internal/models"
)

const namespace = "fieldcount"

// PendingFunc reports the current action log size.
type PendingFunc func(ctx context.Context) (int, error)

// Metrics owns a private registry so tests and multiple instances never collide.
type Metrics struct {
	enabled atomic.Bool

	registry      *prometheus.Registry
	drains        *prometheus.CounterVec
	actions       *prometheus.CounterVec
	drainDuration prometheus.Histogram
	scans         *prometheus.CounterVec
	online        prometheus.Gauge
	queued        *prometheus.CounterVec
}

// New creates the metric set. enabled is the user's opt-in choice.
func New(enabled bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		drains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drains_total",
			Help:      "Completed drains of the action log by trigger.",
		}, []string{"trigger"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "actions_total",
			Help:      "Pending actions processed by drains by outcome.",
		}, []string{"outcome"}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drain_duration_seconds",
			Help:      "Wall time of a drain.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "scans_total",
			Help:      "Barcode scans by source.",
		}, []string{"source"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 while the Remote API is reachable.",
		}),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline",
			Name:      "actions_queued_total",
			Help:      "Mutations appended to the action log by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.drains, m.actions, m.drainDuration, m.scans, m.online, m.queued,
		collectors.NewGoCollector(),
	)
	m.enabled.Store(enabled)
	return m
}

// IsEnabled reports the opt-in state.
func (m *Metrics) IsEnabled() bool {
	return m.enabled.Load()
}

// Enable turns recording and the scrape endpoint on.
func (m *Metrics) Enable() {
	m.enabled.Store(true)
}

// Disable turns recording off. Values recorded so far are kept but not served.
func (m *Metrics) Disable() {
	m.enabled.Store(false)
}

// ObserveReport records one drain.
func (m *Metrics) ObserveReport(r models.SyncReport) {
	if !m.IsEnabled() {
		return
	}
	m.drains.WithLabelValues(r.Trigger).Inc()
	m.actions.WithLabelValues("succeeded").Add(float64(r.Succeeded))
	m.actions.WithLabelValues("failed").Add(float64(r.Failed))
	m.actions.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.drainDuration.Observe(r.Duration().Seconds())
}

// ObserveScan records one scan event.
func (m *Metrics) ObserveScan(e models.ScanEvent) {
	if !m.IsEnabled() {
		return
	}
	m.scans.WithLabelValues(string(e.Source)).Inc()
}

// ObserveQueued records a mutation queued for later delivery.
func (m *Metrics) ObserveQueued(kind models.ActionKind) {
	if !m.IsEnabled() {
		return
	}
	m.queued.WithLabelValues(string(kind)).Inc()
}

// SetOnline records the connectivity state. It matches connectivity.Listener.
func (m *Metrics) SetOnline(online bool) {
	if !m.IsEnabled() {
		return
	}
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

// WatchPending exports the action log size, read at scrape time.
func (m *Metrics) WatchPending(size PendingFunc) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "pending_actions",
		Help:      "Actions waiting in the log.",
	}, func() float64 {
		n, err := size(context.Background())
		if err != nil {
			return -1
		}
		return float64(n)
	}))
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format, or 404 while disabled.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.IsEnabled() {
			http.Error(w, "telemetry disabled", http.StatusNotFound)
			return
		}
		inner.ServeHTTP(w, r)
	})
}
