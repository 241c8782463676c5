// Package telemetry exposes operational metrics and optional distributed
// tracing for the broker and pipeline. Metrics live on a dedicated
// Prometheus registry so the process default registry stays clean.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainsentry/chainsentry/pkg/duration"
)

// Metrics aggregates the platform's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec

	connections   prometheus.Gauge
	subscriptions *prometheus.GaugeVec

	published *prometheus.CounterVec
	delivered *prometheus.CounterVec
	dropped   prometheus.Counter

	mu     sync.Mutex
	server *http.Server
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.tasksSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsentry_tasks_submitted_total",
		Help: "Total tasks accepted by the pipeline engine",
	}, []string{"kind"})

	m.tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsentry_tasks_completed_total",
		Help: "Total tasks that reached the completed state",
	}, []string{"kind"})

	m.tasksFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsentry_tasks_failed_total",
		Help: "Total tasks that reached the failed state",
	}, []string{"kind"})

	m.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainsentry_task_duration_seconds",
		Help:    "Wall time from submission to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})

	m.connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chainsentry_connections",
		Help: "Live subscriber connections",
	})

	m.subscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainsentry_subscriptions",
		Help: "Active topic subscriptions",
	}, []string{"topic"})

	m.published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsentry_messages_published_total",
		Help: "Messages published per topic, independent of subscriber count",
	}, []string{"topic"})

	m.delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsentry_messages_delivered_total",
		Help: "Per-connection deliveries per topic",
	}, []string{"topic"})

	m.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainsentry_connections_dropped_total",
		Help: "Connections deregistered after a failed send or idle timeout",
	})

	m.registry.MustRegister(
		m.tasksSubmitted, m.tasksCompleted, m.tasksFailed, m.taskDuration,
		m.connections, m.subscriptions,
		m.published, m.delivered, m.dropped,
	)
	return m
}

// TaskSubmitted records an accepted submission.
func (m *Metrics) TaskSubmitted(kind string) { m.tasksSubmitted.WithLabelValues(kind).Inc() }

// TaskFinished records a terminal transition with its wall time in seconds.
func (m *Metrics) TaskFinished(kind string, failed bool, seconds float64) {
	if failed {
		m.tasksFailed.WithLabelValues(kind).Inc()
	} else {
		m.tasksCompleted.WithLabelValues(kind).Inc()
	}
	m.taskDuration.WithLabelValues(kind).Observe(seconds)
}

// ConnectionOpened / ConnectionClosed track the live connection gauge.
func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

// ConnectionClosed decrements the live connection gauge.
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// ConnectionDropped counts forced deregistrations.
func (m *Metrics) ConnectionDropped() { m.dropped.Inc() }

// Subscribed / Unsubscribed track per-topic subscription gauges.
func (m *Metrics) Subscribed(topic string) { m.subscriptions.WithLabelValues(topic).Inc() }

// Unsubscribed decrements the per-topic subscription gauge.
func (m *Metrics) Unsubscribed(topic string) { m.subscriptions.WithLabelValues(topic).Dec() }

// Published counts one publish to a topic.
func (m *Metrics) Published(topic string) { m.published.WithLabelValues(topic).Inc() }

// Delivered counts one successful per-connection delivery.
func (m *Metrics) Delivered(topic string) { m.delivered.WithLabelValues(topic).Inc() }

// Handler returns the scrape handler for the dedicated registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics HTTP server on the given address, e.g. ":9090".
// It returns once the listener is running; errors from the server itself
// are logged.
func (m *Metrics) Serve(addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.mu.Lock()
	if m.server != nil {
		m.mu.Unlock()
		return fmt.Errorf("telemetry: metrics server already running")
	}
	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  duration.HTTPRead,
		WriteTimeout: duration.HTTPWrite,
	}
	srv := m.server
	m.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Close shuts down the metrics server if one was started.
func (m *Metrics) Close(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.server = nil
	m.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
