// Package telemetry exports pipeline events as Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"walkpipe/pkg/walker"
)

// Metrics is a walker.Observer that records pipeline activity.
type Metrics struct {
	Compiled      prometheus.Counter
	Runs          *prometheus.CounterVec
	StagesCreated *prometheus.CounterVec
	Yields        *prometheus.CounterVec
	Output        prometheus.Histogram
}

var _ walker.Observer = (*Metrics)(nil)

// New registers the walkpipe metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Compiled: f.NewCounter(prometheus.CounterOpts{
			Name: "walkpipe_pipelines_compiled_total",
			Help: "Pipelines compiled successfully",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walkpipe_pipeline_runs_total",
			Help: "Pipeline runs and compile failures by outcome",
		}, []string{"outcome"}),
		StagesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walkpipe_stages_created_total",
			Help: "Stage instances created by walker name",
		}, []string{"stage"}),
		Yields: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walkpipe_stage_elements_total",
			Help: "Elements yielded by walker name",
		}, []string{"stage"}),
		Output: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "walkpipe_pipeline_output_elements",
			Help:    "Elements delivered to the consumer per run",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to 16384
		}),
	}
}

func (m *Metrics) OnEvent(e walker.Event) {
	switch e.Type {
	case walker.EventCompiled:
		m.Compiled.Inc()
	case walker.EventStageCreated:
		m.StagesCreated.WithLabelValues(e.Stage).Inc()
	case walker.EventYield:
		m.Yields.WithLabelValues(e.Stage).Inc()
	case walker.EventComplete:
		m.Runs.WithLabelValues("complete").Inc()
		m.Output.Observe(float64(e.Count))
	case walker.EventStopped:
		m.Runs.WithLabelValues("stopped").Inc()
		m.Output.Observe(float64(e.Count))
	case walker.EventError:
		m.Runs.WithLabelValues("error").Inc()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
