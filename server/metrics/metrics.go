// Package metrics exports platform metrics in Prometheus format: query
// latency, cache effectiveness, realtime delivery volume, LLM usage and
// proactive expression outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prizm"

// Exporter owns a private registry so tests can run side by side without
// duplicate-registration panics.
type Exporter struct {
	registry *prometheus.Registry

	queryLatency *prometheus.HistogramVec

	cacheHits   *prometheus.GaugeVec
	cacheMisses *prometheus.GaugeVec

	messagesDelivered *prometheus.CounterVec
	spoolDepth        *prometheus.GaugeVec
	offlinePending    *prometheus.GaugeVec

	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	expressions *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	Registry       *prometheus.Registry
	LatencyBuckets []float64
}

// DefaultConfig returns the default buckets, tuned for storage queries.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}
}

// NewExporter creates and registers the metric set.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.queryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_latency_seconds",
			Help:      "Latency of named storage queries in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"query"},
	)

	e.cacheHits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits",
			Help:      "Cumulative cache hits per region",
		},
		[]string{"region"},
	)

	e.cacheMisses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses",
			Help:      "Cumulative cache misses per region",
		},
		[]string{"region"},
	)

	e.messagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "messages_delivered_total",
			Help:      "Messages handed to connection handlers",
		},
		[]string{"event_type"},
	)

	e.spoolDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "spool_depth",
			Help:      "Spooled envelopes per user awaiting reconnect",
		},
		[]string{"user_id"},
	)

	e.offlinePending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "offline_pending",
			Help:      "Accumulated offline notifications per user",
		},
		[]string{"user_id"},
	)

	e.llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM chat completions by outcome",
		},
		[]string{"model", "status"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by LLM calls",
		},
		[]string{"model", "kind"},
	)

	e.expressions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frequency",
			Name:      "expressions_total",
			Help:      "Proactive expressions by type and delivery outcome",
		},
		[]string{"expression_type", "channel", "status"},
	)

	registry.MustRegister(
		e.queryLatency,
		e.cacheHits, e.cacheMisses,
		e.messagesDelivered, e.spoolDepth, e.offlinePending,
		e.llmRequests, e.llmTokens,
		e.expressions,
	)
	return e
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// ObserveQuery implements the store's query timing hook.
func (e *Exporter) ObserveQuery(name string, seconds float64) {
	e.queryLatency.WithLabelValues(name).Observe(seconds)
}

// SetCacheStats overwrites the per-region hit/miss gauges.
func (e *Exporter) SetCacheStats(stats map[string][2]uint64) {
	for region, counts := range stats {
		e.cacheHits.WithLabelValues(region).Set(float64(counts[0]))
		e.cacheMisses.WithLabelValues(region).Set(float64(counts[1]))
	}
}

// CountDelivery counts one delivered realtime message.
func (e *Exporter) CountDelivery(eventType string) {
	e.messagesDelivered.WithLabelValues(eventType).Inc()
}

// SetSpoolDepth records a user's current spool depth.
func (e *Exporter) SetSpoolDepth(userID string, depth int) {
	e.spoolDepth.WithLabelValues(userID).Set(float64(depth))
}

// SetOfflinePending records a user's accumulated offline notifications.
func (e *Exporter) SetOfflinePending(userID string, pending int) {
	e.offlinePending.WithLabelValues(userID).Set(float64(pending))
}

// CountLLMCall counts one completion and its token usage.
func (e *Exporter) CountLLMCall(model, status string, promptTokens, completionTokens int) {
	e.llmRequests.WithLabelValues(model, status).Inc()
	if promptTokens > 0 {
		e.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		e.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// CountExpression counts one dispatched proactive expression.
func (e *Exporter) CountExpression(expressionType, channel string, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	e.expressions.WithLabelValues(expressionType, channel, status).Inc()
}
