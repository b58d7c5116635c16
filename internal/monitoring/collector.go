// internal/monitoring/collector.go
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/icl-lab/promptdyn/internal/dynamics"
)

// Collector - Prometheus metrics for the dynamics pipeline.
type Collector struct {
	updateSteps      prometheus.Counter
	analysesTotal    *prometheus.CounterVec
	optimizationRuns prometheus.Counter
	learningRate     prometheus.Gauge
	convergenceRate  prometheus.Gauge
	analysisDuration prometheus.Histogram
}

// NewCollector - registers the metric set on the given registerer. Pass a
// fresh registry in tests to avoid duplicate registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		updateSteps: f.NewCounter(prometheus.CounterOpts{
			Name: "promptdyn_update_steps_total",
			Help: "Weight update steps applied across all analyses.",
		}),
		analysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "promptdyn_analyses_total",
			Help: "Deep analyses run, labeled by convergence type.",
		}, []string{"convergence_type"}),
		optimizationRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "promptdyn_optimization_runs_total",
			Help: "Sequential optimization runs completed.",
		}),
		learningRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "promptdyn_learning_rate",
			Help: "Learning rate of the most recent analysis engine.",
		}),
		convergenceRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "promptdyn_last_convergence_rate",
			Help: "Final convergence rate of the most recent analysis.",
		}),
		analysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptdyn_analysis_duration_seconds",
			Help:    "Wall time per deep analysis.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveAnalysis - records one finished deep analysis.
func (c *Collector) ObserveAnalysis(a *dynamics.DetailedAnalysis, elapsed time.Duration) {
	c.updateSteps.Add(float64(len(a.GradientNorms)))
	c.analysesTotal.WithLabelValues(string(a.ConvergenceType)).Inc()
	c.convergenceRate.Set(a.FinalConvergenceRate)
	c.analysisDuration.Observe(elapsed.Seconds())
}

// ObserveOptimization - records one finished optimization run.
func (c *Collector) ObserveOptimization(steps int) {
	c.optimizationRuns.Inc()
	c.updateSteps.Add(float64(steps))
}

// SetLearningRate - exposes the rate of the engine currently in use.
func (c *Collector) SetLearningRate(rate float64) {
	c.learningRate.Set(rate)
}
