// Package executor defines the contract between the tree scheduler and the
// code that runs a command for one package, plus the shell and dry-run
// implementations of that contract.
//
// The scheduler treats an [Executor] as opaque: it hands over a [Request],
// passes a cancellation signal through the context, and records the
// returned [Result]. Executors must honor ctx cancellation by terminating
// whatever they started.
package executor

import (
	"context"
	"time"

	"github.com/Iron-Ham/treebuild/internal/graph"
)

// NoChangesMarker is the output line a command prints to report that the
// package had nothing to do. A successful run that prints it is recorded as
// skipped-no-changes.
const NoChangesMarker = "treebuild:no-changes"

// Request describes one package execution.
type Request struct {
	Package graph.Package
	Command string
	// Options are opaque key/value settings passed through from the caller.
	Options map[string]string
	DryRun  bool
	// Index is the 1-based position of the package in the build order.
	Index int
	Total int
	// AllPackages lists every package name in build order.
	AllPackages []string
	// Attempt is 1 for the first execution of the package and increases with
	// each retry.
	Attempt int
}

// Result is the outcome of one package execution.
type Result struct {
	Success bool
	// Err describes a failure. It is nil on success.
	Err error
	// Timeout is set when the execution exceeded its deadline.
	Timeout bool
	// SkippedNoChanges is set on success when the package had nothing to do.
	SkippedNoChanges bool
	// ExitCode is the process exit status, or -1 when unknown.
	ExitCode int
	// Output holds the tail of the combined output.
	Output   string
	Duration time.Duration
}

// Executor runs the configured command for a single package.
type Executor interface {
	Execute(ctx context.Context, req Request) Result
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, req Request) Result

// Execute calls f(ctx, req).
func (f Func) Execute(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// DryRun reports synthetic success for every package without side effects.
// It still honors cancellation so an interrupted dry run stops promptly.
type DryRun struct {
	// Delay simulates work; zero returns immediately.
	Delay time.Duration
}

// Execute returns a successful Result after Delay, or a failed one if ctx
// is canceled first.
func (d DryRun) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	if d.Delay > 0 {
		t := time.NewTimer(d.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{Err: canceledError(ctx), ExitCode: -1, Duration: time.Since(start)}
		case <-t.C:
		}
	}
	return Result{Success: true, Duration: time.Since(start)}
}
