// Package metrics defines the observability hooks of a tree execution and a
// Prometheus-backed implementation.
//
// The scheduler receives a [Recorder]; [NoopRecorder] is the default when
// metrics are not configured. [PrometheusRecorder] registers its collectors
// on a caller-supplied registry and can write them to a node_exporter
// textfile once the run ends.
package metrics

import "time"

// Outcome enumerates package and execution result categories for counters.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeNoChanges   Outcome = "no_changes"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeInterrupted Outcome = "interrupted"
)

// Recorder defines observability hooks for tree executions. All methods must
// be safe to call from the scheduler's coordinating loop without blocking.
type Recorder interface {
	ObservePackageDuration(pkg string, d time.Duration, outcome Outcome)
	IncPackageOutcome(outcome Outcome)
	ObserveExecutionDuration(d time.Duration)
	IncExecutionOutcome(outcome Outcome)
	SetRunning(n int)
	SetPeakConcurrency(n int)
	SetAverageConcurrency(v float64)
	IncCheckpointSave(success bool)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObservePackageDuration(string, time.Duration, Outcome) {}
func (NoopRecorder) IncPackageOutcome(Outcome)                             {}
func (NoopRecorder) ObserveExecutionDuration(time.Duration)                {}
func (NoopRecorder) IncExecutionOutcome(Outcome)                           {}
func (NoopRecorder) SetRunning(int)                                        {}
func (NoopRecorder) SetPeakConcurrency(int)                                {}
func (NoopRecorder) SetAverageConcurrency(float64)                         {}
func (NoopRecorder) IncCheckpointSave(bool)                                {}
