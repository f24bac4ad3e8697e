package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of deployment runs. A disabled
// instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	handlerDuration  *prometheus.HistogramVec
	skippedDeletions *prometheus.CounterVec
	errorsByClass    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of deployment runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of deployment runs completed",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of deployment runs in seconds",
			Buckets:   buckets,
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Current number of active runs",
		}),

		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Total number of remote mutations by type, operation and outcome",
		}, []string{"type", "operation", "status"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Duration of remote mutations in seconds",
			Buckets:   buckets,
		}, []string{"type", "operation"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Duration of a resource type's processing in seconds",
			Buckets:   buckets,
		}, []string{"type", "status"}),
		skippedDeletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_deletions_total",
			Help:      "Total number of deletions withheld by the deletion policy",
		}, []string{"type"}),
		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by class",
		}, []string{"class"}),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.mutations,
		m.mutationDuration,
		m.handlerDuration,
		m.skippedDeletions,
		m.errorsByClass,
	)

	return m, nil
}

// RecordRunStarted counts a started run.
func (m *Metrics) RecordRunStarted() {
	if m.registry == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration, started bool) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	if started {
		m.activeRuns.Dec()
	}
}

// RecordMutation records one remote mutation.
func (m *Metrics) RecordMutation(resourceType, operation string, duration time.Duration, err error) {
	if m.registry == nil {
		return
	}
	m.mutations.WithLabelValues(resourceType, operation, outcome(err)).Inc()
	m.mutationDuration.WithLabelValues(resourceType, operation).Observe(duration.Seconds())
}

// RecordHandler records the processing time of one resource type.
func (m *Metrics) RecordHandler(resourceType string, duration time.Duration, err error) {
	if m.registry == nil {
		return
	}
	m.handlerDuration.WithLabelValues(resourceType, outcome(err)).Observe(duration.Seconds())
}

// RecordSkippedDeletions counts deletions the policy withheld.
func (m *Metrics) RecordSkippedDeletions(resourceType string, count int) {
	if m.registry == nil || count == 0 {
		return
	}
	m.skippedDeletions.WithLabelValues(resourceType).Add(float64(count))
}

// RecordError counts an error by class.
func (m *Metrics) RecordError(class string) {
	if m.registry == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is canceled. It returns
// immediately when metrics are disabled or no listen address is set.
func (m *Metrics) Serve(ctx context.Context) error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
