package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "treebuild"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg *prom.Registry

	packageDuration    *prom.HistogramVec
	packageOutcomes    *prom.CounterVec
	executionDuration  prom.Histogram
	executionOutcomes  *prom.CounterVec
	running            prom.Gauge
	peakConcurrency    prom.Gauge
	averageConcurrency prom.Gauge
	checkpointSaves    *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		packageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "package_duration_seconds",
			Help:      "Duration of individual package executions",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 14),
		}, []string{"package", "outcome"}),
		packageOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "package_outcomes_total",
			Help:      "Package results by outcome",
		}, []string{"outcome"}),
		executionDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Total tree execution duration",
			Buckets:   prom.ExponentialBuckets(1, 2, 14),
		}),
		executionOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "execution_outcomes_total",
			Help:      "Tree executions by final status",
		}, []string{"outcome"}),
		running: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "running_packages",
			Help:      "Packages currently executing",
		}),
		peakConcurrency: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_concurrency",
			Help:      "Maximum simultaneous package executions in the last run",
		}),
		averageConcurrency: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "average_concurrency",
			Help:      "Time-weighted mean of simultaneous package executions in the last run",
		}),
		checkpointSaves: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint writes by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		pr.packageDuration,
		pr.packageOutcomes,
		pr.executionDuration,
		pr.executionOutcomes,
		pr.running,
		pr.peakConcurrency,
		pr.averageConcurrency,
		pr.checkpointSaves,
	)
	return pr
}

// Registry returns the registry the collectors are registered on.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.reg
}

func (p *PrometheusRecorder) ObservePackageDuration(pkg string, d time.Duration, outcome Outcome) {
	if p == nil {
		return
	}
	p.packageDuration.WithLabelValues(pkg, string(outcome)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPackageOutcome(outcome Outcome) {
	if p == nil {
		return
	}
	p.packageOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveExecutionDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.executionDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncExecutionOutcome(outcome Outcome) {
	if p == nil {
		return
	}
	p.executionOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetRunning(n int) {
	if p == nil {
		return
	}
	p.running.Set(float64(n))
}

func (p *PrometheusRecorder) SetPeakConcurrency(n int) {
	if p == nil {
		return
	}
	p.peakConcurrency.Set(float64(n))
}

func (p *PrometheusRecorder) SetAverageConcurrency(v float64) {
	if p == nil {
		return
	}
	p.averageConcurrency.Set(v)
}

func (p *PrometheusRecorder) IncCheckpointSave(success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.checkpointSaves.WithLabelValues(res).Inc()
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format. The write is atomic, as the textfile collector requires.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
