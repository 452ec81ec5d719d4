// Package metrics exports engine run and step metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexsaulik/promptfolio/internal/engine"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

const namespace = "promptfolio"

// Observer is an engine.Observer that records Prometheus metrics.
type Observer struct {
	runsActive   prometheus.Gauge
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an Observer and registers its collectors, plus the Go
// runtime and process collectors, in a fresh registry.
func NewObserver() *Observer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewObserverWithRegistry(reg)
}

// NewObserverWithRegistry registers the engine collectors in reg.
func NewObserverWithRegistry(reg *prometheus.Registry) *Observer {
	o := &Observer{
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of workflow runs currently executing",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished workflow runs",
		}, []string{"workflow", "status"}), // status: completed, failed
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Histogram of workflow run duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"workflow", "status"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of visited steps by kind and outcome",
		}, []string{"kind", "outcome"}), // outcome: completed, failed, skipped
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Histogram of step handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		registry: reg,
	}
	reg.MustRegister(o.runsActive, o.runsTotal, o.runDuration, o.stepsTotal, o.stepDuration)
	return o
}

// WatchPool exports the engine's background run pool through collectors
// that read stats on every scrape.
func (o *Observer) WatchPool(stats func() engine.PoolStats) {
	o.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_size",
			Help:      "Maximum number of concurrent background runs",
		}, func() float64 { return float64(stats().Size) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_queued",
			Help:      "Submitted runs waiting for a pool slot",
		}, func() float64 { return float64(stats().Queued) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_runs_active",
			Help:      "Background runs holding a pool slot",
		}, func() float64 { return float64(stats().Active) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_panics_total",
			Help:      "Background runs that ended in an unrecovered panic",
		}, func() float64 { return float64(stats().Panics) }),
	)
}

// Registry returns the registry the collectors are registered in.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (o *Observer) OnRunStart(context.Context, engine.RunInfo) {
	o.runsActive.Inc()
}

func (o *Observer) OnRunCompleted(_ context.Context, run engine.RunInfo, d time.Duration) {
	o.finish(run, schema.ExecutionCompleted, d)
}

func (o *Observer) OnRunFailed(_ context.Context, run engine.RunInfo, _ error, d time.Duration) {
	o.finish(run, schema.ExecutionFailed, d)
}

func (o *Observer) OnStepStart(context.Context, engine.RunInfo, *schema.StepDefinition) {}

func (o *Observer) OnStepCompleted(_ context.Context, _ engine.RunInfo, step *schema.StepDefinition, outcome schema.StepOutcome, _ error, d time.Duration) {
	kind := string(step.Kind)
	o.stepsTotal.WithLabelValues(kind, string(outcome)).Inc()
	if outcome != schema.StepSkipped {
		o.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (o *Observer) finish(run engine.RunInfo, status schema.ExecutionStatus, d time.Duration) {
	o.runsActive.Dec()
	o.runsTotal.WithLabelValues(run.WorkflowID, string(status)).Inc()
	o.runDuration.WithLabelValues(run.WorkflowID, string(status)).Observe(d.Seconds())
}
