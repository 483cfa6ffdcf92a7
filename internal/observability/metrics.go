package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the agent core. Created via
// NewMetrics, which registers everything with the default registry.
type Metrics struct {
	// LLMRequestDuration tracks model round-trip latency.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model requests by status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed counts tokens by direction (input/output).
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool executions by tool and terminal state.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration tracks tool execution time.
	ToolExecutionDuration *prometheus.HistogramVec

	// CompressionCounter counts history compression passes by outcome.
	CompressionCounter *prometheus.CounterVec

	// CompressionTokensReclaimed counts tokens reclaimed by compression.
	CompressionTokensReclaimed prometheus.Counter

	// ActiveSessions tracks currently live sessions.
	ActiveSessions prometheus.Gauge

	// ContextUsageRatio observes context usage as a fraction of the model
	// limit at request time.
	ContextUsageRatio prometheus.Histogram
}

// NewMetrics creates and registers all collectors with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_llm_request_duration_seconds",
				Help:    "Model request round-trip latency.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_llm_requests_total",
				Help: "Model requests by status.",
			},
			[]string{"model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_llm_tokens_total",
				Help: "Tokens consumed, by direction.",
			},
			[]string{"model", "direction"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_executions_total",
				Help: "Tool executions by tool name and terminal state.",
			},
			[]string{"tool", "state"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_tool_execution_duration_seconds",
				Help:    "Tool execution wall time.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"tool"},
		),
		CompressionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_compressions_total",
				Help: "History compression passes by outcome.",
			},
			[]string{"outcome"},
		),
		CompressionTokensReclaimed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_compression_tokens_reclaimed_total",
				Help: "Estimated tokens reclaimed by compression.",
			},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_sessions",
				Help: "Currently live sessions.",
			},
		),
		ContextUsageRatio: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conductor_context_usage_ratio",
				Help:    "Context usage as a fraction of the model limit.",
				Buckets: prometheus.LinearBuckets(0.05, 0.05, 19),
			},
		),
	}
}

// RecordLLMRequest records one model round trip.
func (m *Metrics) RecordLLMRequest(model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool call reaching a terminal state.
func (m *Metrics) RecordToolExecution(tool, state string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, state).Inc()
	if durationSeconds > 0 {
		m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
	}
}

// RecordCompression records one compression pass.
func (m *Metrics) RecordCompression(compressed bool, tokensBefore, tokensAfter int) {
	outcome := "noop"
	if compressed {
		outcome = "compressed"
	}
	m.CompressionCounter.WithLabelValues(outcome).Inc()
	if compressed && tokensBefore > tokensAfter {
		m.CompressionTokensReclaimed.Add(float64(tokensBefore - tokensAfter))
	}
}

// ObserveContextUsage records context usage as a fraction of the model
// limit.
func (m *Metrics) ObserveContextUsage(ratio float64) {
	m.ContextUsageRatio.Observe(ratio)
}

// SessionStarted increments the live session gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the live session gauge.
func (m *Metrics) SessionEnded() {
	m.ActiveSessions.Dec()
}
