package pool

import (
	"runtime"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/event"
	"github.com/Iron-Ham/treebuild/internal/executor"
	"github.com/Iron-Ham/treebuild/internal/graph"
	"github.com/Iron-Ham/treebuild/internal/metrics"
)

// Logger is the logging capability the scheduler needs. *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config configures a Pool.
type Config struct {
	// Graph is the resolved package graph. Required.
	Graph *graph.Graph

	// Command is passed through to the executor untouched.
	Command string

	// Options are passed through to the executor untouched.
	Options map[string]string

	// MaxConcurrency bounds in-flight executions. Zero or negative means
	// runtime.NumCPU().
	MaxConcurrency int

	// Executor runs one package. Required unless DryRun is set, in which
	// case it is replaced by executor.DryRun.
	Executor executor.Executor

	DryRun bool

	// StartFrom names a package (or its directory basename). Packages that
	// precede it in the build order are treated as completed. Ignored when
	// resuming.
	StartFrom string

	// Resume is a previously saved state to continue from. Nil starts a
	// fresh execution.
	Resume *checkpoint.State

	// Checkpoints persists the state after every transition. Nil disables
	// persistence.
	Checkpoints *checkpoint.Manager

	// KeepCheckpoint retains the checkpoint after a fully successful run.
	KeepCheckpoint bool

	// ExecutionID identifies a fresh execution. Empty generates a UUID.
	ExecutionID string

	Logger   Logger
	Bus      *event.Bus
	Recorder metrics.Recorder
}

func (c *Config) validate() error {
	if c.Graph == nil {
		return errors.NewValidationError("graph is required").WithField("Graph")
	}
	if c.Executor == nil && !c.DryRun {
		return errors.NewValidationError("executor is required unless dry run is enabled").WithField("Executor")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = runtime.NumCPU()
	}
	if c.DryRun {
		c.Executor = executor.DryRun{}
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	if c.Recorder == nil {
		c.Recorder = metrics.NoopRecorder{}
	}
}
