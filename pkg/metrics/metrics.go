package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

type Config struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `split_words:"true"`
}

// Metrics holds the Prometheus collectors of the tutor.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal     *prometheus.CounterVec
	TurnIterations prometheus.Histogram

	ModelCallsTotal   *prometheus.CounterVec
	ModelCallDuration prometheus.Histogram

	ToolExecutionsTotal      *prometheus.CounterVec
	ToolExecutionDuration    *prometheus.HistogramVec
	ToolExecutionErrorsTotal *prometheus.CounterVec

	SessionsActive prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_turns_total",
				Help: "Total number of finished turns by status",
			},
			[]string{"status"},
		),
		TurnIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tutor_turn_iterations",
				Help:    "Model invocations per turn",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
		),

		ModelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_model_calls_total",
				Help: "Total number of model calls by status",
			},
			[]string{"status"},
		),
		ModelCallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tutor_model_call_duration_seconds",
				Help:    "Duration of model calls including retries",
				Buckets: prometheus.DefBuckets,
			},
		),

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutor_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolExecutionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_tool_execution_errors_total",
				Help: "Total number of tool execution errors",
			},
			[]string{"tool_name", "error_type"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tutor_sessions_active",
				Help: "Number of sessions held in process",
			},
		),
	}

	m.registry.MustRegister(
		m.TurnsTotal,
		m.TurnIterations,
		m.ModelCallsTotal,
		m.ModelCallDuration,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.ToolExecutionErrorsTotal,
		m.SessionsActive,
	)

	return m
}

func (m *Metrics) ObserveToolResult(res contractx.ToolResult) {
	status := "success"
	if !res.Success {
		status = "error"
		m.ToolExecutionErrorsTotal.WithLabelValues(res.Tool, string(res.ErrorKind)).Inc()
	}
	m.ToolExecutionsTotal.WithLabelValues(res.Tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(res.Tool).Observe(res.Duration.Seconds())
}

func (m *Metrics) ObserveTurn(status contractx.TurnStatus, iterations int) {
	m.TurnsTotal.WithLabelValues(string(status)).Inc()
	if iterations > 0 {
		m.TurnIterations.Observe(float64(iterations))
	}
}

func (m *Metrics) ObserveModelCall(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelCallsTotal.WithLabelValues(status).Inc()
	m.ModelCallDuration.Observe(d.Seconds())
}

func (m *Metrics) SetSessionsActive(n int) {
	m.SessionsActive.Set(float64(n))
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
