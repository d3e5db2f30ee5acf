package llm

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// llmStepRequestsTotal tracks delegated step calls by provider, step and status
	llmStepRequestsTotal *prometheus.CounterVec

	// llmStepDuration tracks latency of delegated step calls
	llmStepDuration *prometheus.HistogramVec

	// llmReportGuardrailsTotal tracks report guardrail activations
	llmReportGuardrailsTotal *prometheus.CounterVec

	// llmAPIErrorsTotal tracks LLM API errors by provider and type
	llmAPIErrorsTotal *prometheus.CounterVec

	// llmReportThreatLevel tracks distribution of reported threat levels
	llmReportThreatLevel *prometheus.CounterVec
)

// InitMetrics registers all Prometheus metrics for model providers
// This should be called once at application startup
func InitMetrics() {
	metricsOnce.Do(func() {
		llmStepRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfir_llm_step_requests_total",
				Help: "Total number of delegated step requests by provider, step and status",
			},
			[]string{"provider", "step", "status"},
		)

		llmStepDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dfir_llm_step_duration_seconds",
				Help:    "Duration of delegated step requests in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"provider", "step"},
		)

		llmReportGuardrailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfir_report_guardrails_total",
				Help: "Total number of report guardrail activations by type and action",
			},
			[]string{"type", "action"},
		)

		llmAPIErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfir_llm_api_errors_total",
				Help: "Total number of LLM API errors by provider and error type",
			},
			[]string{"provider", "error_type"},
		)

		llmReportThreatLevel = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfir_report_threat_level_total",
				Help: "Distribution of threat levels in analysis reports",
			},
			[]string{"threat_level"},
		)
	})
}

// RecordStepRequest records a delegated step call
// status: "success", "error"
func RecordStepRequest(provider, step, status string) {
	if llmStepRequestsTotal != nil {
		llmStepRequestsTotal.WithLabelValues(provider, step, status).Inc()
	}
}

// RecordStepDuration records the duration of a delegated step call
func RecordStepDuration(provider, step string, duration time.Duration) {
	if llmStepDuration != nil {
		llmStepDuration.WithLabelValues(provider, step).Observe(duration.Seconds())
	}
}

// RecordGuardrail records a guardrail activation
// guardType: "threat_level", "ioc", "remediation"
// action: "normalize", "drop", "annotate", "default"
func RecordGuardrail(guardType, action string) {
	if llmReportGuardrailsTotal != nil {
		llmReportGuardrailsTotal.WithLabelValues(guardType, action).Inc()
	}
}

// RecordError records an LLM API error by type
// errorType: "timeout", "auth", "rate_limit", "server_error", "connection", "parse", "circuit_open", "http_error"
func RecordError(provider, errorType string) {
	if llmAPIErrorsTotal != nil {
		llmAPIErrorsTotal.WithLabelValues(provider, errorType).Inc()
	}
}

// RecordThreatLevel records the threat level of an accepted report
func RecordThreatLevel(level string) {
	if llmReportThreatLevel != nil {
		llmReportThreatLevel.WithLabelValues(level).Inc()
	}
}

// StepTimer is a helper for timing delegated step calls
type StepTimer struct {
	provider string
	step     string
	start    time.Time
}

// StartTimer creates a new timer for measuring a step call
func StartTimer(provider, step string) *StepTimer {
	return &StepTimer{provider: provider, step: step, start: time.Now()}
}

// ObserveDuration records the elapsed time since the timer started
func (t *StepTimer) ObserveDuration() {
	if t != nil {
		RecordStepDuration(t.provider, t.step, time.Since(t.start))
	}
}
