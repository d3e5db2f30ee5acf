package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

// PipelineObserver records pipeline events as Prometheus metrics.
// It implements pipeline.StepObserver.
type PipelineObserver struct {
	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	runsTotal      *prometheus.CounterVec
	staticIOCTotal *prometheus.CounterVec
}

// NewPipelineObserver registers the pipeline metrics on reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewPipelineObserver(reg prometheus.Registerer) *PipelineObserver {
	factory := promauto.With(reg)

	return &PipelineObserver{
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfir_pipeline_steps_total",
				Help: "Pipeline steps executed by step and status",
			},
			[]string{"step", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dfir_pipeline_step_duration_seconds",
				Help:    "Pipeline step duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"step"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfir_pipeline_runs_total",
				Help: "Finished pipeline runs by final state and whether a report was produced",
			},
			[]string{"state", "report"},
		),
		staticIOCTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfir_static_iocs_total",
				Help: "Indicators found by the static signature scanner by type",
			},
			[]string{"type"},
		),
	}
}

func (o *PipelineObserver) StepFinished(step domain.Step, status domain.StepStatus, elapsed time.Duration) {
	o.stepsTotal.WithLabelValues(string(step), string(status)).Inc()
	o.stepDuration.WithLabelValues(string(step)).Observe(elapsed.Seconds())
}

func (o *PipelineObserver) RunFinished(state domain.RunState, hasReport bool) {
	report := "false"
	if hasReport {
		report = "true"
	}
	o.runsTotal.WithLabelValues(string(state), report).Inc()
}

func (o *PipelineObserver) StaticIndicatorsFound(iocs []domain.Indicator) {
	for _, ioc := range iocs {
		o.staticIOCTotal.WithLabelValues(string(ioc.Type)).Inc()
	}
}
