// Package observability exports run metrics to Prometheus and trace spans
// over OTLP. A nil Collector is valid and records nothing, so callers never
// guard their instrumentation sites.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orchid/internal/logging"
)

// Collector owns the Prometheus registry and every engine metric.
type Collector struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	sandboxExecutions *prometheus.CounterVec
	delegationsTotal  *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmLatency  prometheus.Histogram

	server *http.Server
	logger logging.Logger
}

// NewCollector builds a collector with its own registry.
func NewCollector(logger logging.Logger) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		logger:   logging.OrNop(logger),

		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchid_runs_total",
			Help: "Completed runs by outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchid_run_duration_seconds",
			Help:    "Wall-clock duration of completed runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchid_steps_total",
			Help: "Resolved plan steps by capability kind and outcome.",
		}, []string{"kind", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchid_step_duration_seconds",
			Help:    "Duration of individual plan steps.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"kind"}),
		sandboxExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchid_sandbox_executions_total",
			Help: "Sandbox executions by outcome.",
		}, []string{"outcome"}),
		delegationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchid_delegations_total",
			Help: "Nested delegation runs by outcome.",
		}, []string{"outcome"}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchid_llm_requests_total",
			Help: "Model gateway requests by model and status.",
		}, []string{"model", "status"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchid_llm_tokens_total",
			Help: "Tokens exchanged with the model gateway.",
		}, []string{"direction"}),
		llmLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchid_llm_latency_seconds",
			Help:    "Model gateway request latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// Handler serves the Prometheus scrape endpoint.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer exposes /metrics on addr in the background. Used when the
// engine runs without the API server.
func (c *Collector) StartServer(addr string) {
	if c == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		c.logger.Info("metrics server listening on %s", addr)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server: %v", err)
		}
	}()
}

// Shutdown stops the scrape server if one was started.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordRun records one completed run.
func (c *Collector) RecordRun(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordStep records one resolved plan step.
func (c *Collector) RecordStep(kind, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(kind, outcome).Inc()
	c.stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordSandbox records one sandbox execution.
func (c *Collector) RecordSandbox(outcome string) {
	if c == nil {
		return
	}
	c.sandboxExecutions.WithLabelValues(outcome).Inc()
}

// RecordDelegation records one nested run.
func (c *Collector) RecordDelegation(outcome string) {
	if c == nil {
		return
	}
	c.delegationsTotal.WithLabelValues(outcome).Inc()
}

// RecordLLM records one model gateway round trip.
func (c *Collector) RecordLLM(model, status string, latency time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequests.WithLabelValues(model, status).Inc()
	c.llmLatency.Observe(latency.Seconds())
	if promptTokens > 0 {
		c.llmTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}
