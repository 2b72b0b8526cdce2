package pool

import (
	"time"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
)

// ExecutionResult aggregates the outcome of Pool.Execute. Individual package
// failures are reported here rather than as an error.
type ExecutionResult struct {
	// Success is true when every package completed (or was skipped by an
	// operator) and the run was not interrupted.
	Success     bool
	ExecutionID string
	// Interrupted is set when the context was canceled before the run
	// finished. Interrupted packages are back in pending in the checkpoint.
	Interrupted bool

	TotalPackages    int
	Completed        []string
	Failed           []string
	Skipped          []string
	SkippedNoChanges []string
	// FailedPackages carries the failure snapshots in build order.
	FailedPackages []checkpoint.FailedPackage

	Duration time.Duration
	Metrics  Metrics

	// CheckpointPath is the checkpoint left on disk, or empty when it was
	// removed or persistence is disabled.
	CheckpointPath string
}

// Metrics describes how well the run used its concurrency budget.
type Metrics struct {
	// PeakConcurrency is the maximum number of simultaneous executions.
	PeakConcurrency int
	// AverageConcurrency is the time-weighted mean number of executions
	// over the whole run.
	AverageConcurrency float64
}

// concurrencyTracker integrates the running count over time.
type concurrencyTracker struct {
	start    time.Time
	last     time.Time
	current  int
	peak     int
	weighted float64 // running-count × seconds
}

func newConcurrencyTracker(now time.Time) *concurrencyTracker {
	return &concurrencyTracker{start: now, last: now}
}

func (t *concurrencyTracker) set(n int, now time.Time) {
	t.weighted += float64(t.current) * now.Sub(t.last).Seconds()
	t.last = now
	t.current = n
	if n > t.peak {
		t.peak = n
	}
}

func (t *concurrencyTracker) metrics(now time.Time) Metrics {
	weighted := t.weighted + float64(t.current)*now.Sub(t.last).Seconds()
	m := Metrics{PeakConcurrency: t.peak}
	if elapsed := now.Sub(t.start).Seconds(); elapsed > 0 {
		m.AverageConcurrency = weighted / elapsed
	}
	return m
}
