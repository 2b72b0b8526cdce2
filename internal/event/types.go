package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns the event name, "category:action"
	// (e.g. "package:started").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type names.
const (
	TypeExecutionStarted        = "execution:started"
	TypePackageStarted          = "package:started"
	TypePackageCompleted        = "package:completed"
	TypePackageFailed           = "package:failed"
	TypePackageRetrying         = "package:retrying"
	TypePackageSkipped          = "package:skipped"
	TypePackageSkippedNoChanges = "package:skipped-no-changes"
	TypeCheckpointSaved         = "checkpoint:saved"
	TypeExecutionCompleted      = "execution:completed"
)

// Types returns every lifecycle event type in emission order.
func Types() []string {
	return []string{
		TypeExecutionStarted,
		TypePackageStarted,
		TypePackageCompleted,
		TypePackageFailed,
		TypePackageRetrying,
		TypePackageSkipped,
		TypePackageSkippedNoChanges,
		TypeCheckpointSaved,
		TypeExecutionCompleted,
	}
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Execution Events
// -----------------------------------------------------------------------------

// ExecutionStartedEvent is emitted once scheduling begins.
type ExecutionStartedEvent struct {
	baseEvent
	ExecutionID    string
	TotalPackages  int
	MaxConcurrency int
	BuildOrder     []string
	Resumed        bool // Execution continues from a checkpoint
	DryRun         bool

	// Packages already in a terminal bucket when scheduling begins.
	Completed []string
	Failed    []string
	Skipped   []string
}

// NewExecutionStartedEvent creates an ExecutionStartedEvent.
func NewExecutionStartedEvent(executionID string, buildOrder []string, maxConcurrency int, resumed, dryRun bool) ExecutionStartedEvent {
	return ExecutionStartedEvent{
		baseEvent:      newBaseEvent(TypeExecutionStarted),
		ExecutionID:    executionID,
		TotalPackages:  len(buildOrder),
		MaxConcurrency: maxConcurrency,
		BuildOrder:     buildOrder,
		Resumed:        resumed,
		DryRun:         dryRun,
	}
}

// ExecutionCompletedEvent is emitted when the pool reaches a terminal state.
type ExecutionCompletedEvent struct {
	baseEvent
	ExecutionID      string
	Success          bool
	Interrupted      bool
	TotalPackages    int
	Completed        int
	Failed           int
	Skipped          int
	SkippedNoChanges int
	Duration         time.Duration
}

// NewExecutionCompletedEvent creates an ExecutionCompletedEvent.
func NewExecutionCompletedEvent(executionID string, success, interrupted bool, total, completed, failed, skipped, noChanges int, duration time.Duration) ExecutionCompletedEvent {
	return ExecutionCompletedEvent{
		baseEvent:        newBaseEvent(TypeExecutionCompleted),
		ExecutionID:      executionID,
		Success:          success,
		Interrupted:      interrupted,
		TotalPackages:    total,
		Completed:        completed,
		Failed:           failed,
		Skipped:          skipped,
		SkippedNoChanges: noChanges,
		Duration:         duration,
	}
}

// -----------------------------------------------------------------------------
// Package Events
// -----------------------------------------------------------------------------

// PackageStartedEvent is emitted when a package is dispatched to the executor.
type PackageStartedEvent struct {
	baseEvent
	Package string
	Index   int // 1-based position in the build order
	Total   int
	Attempt int // 1 on the first attempt
}

// NewPackageStartedEvent creates a PackageStartedEvent.
func NewPackageStartedEvent(pkg string, index, total, attempt int) PackageStartedEvent {
	return PackageStartedEvent{
		baseEvent: newBaseEvent(TypePackageStarted),
		Package:   pkg,
		Index:     index,
		Total:     total,
		Attempt:   attempt,
	}
}

// PackageCompletedEvent is emitted when a package finishes successfully.
type PackageCompletedEvent struct {
	baseEvent
	Package  string
	Duration time.Duration
	Attempt  int
}

// NewPackageCompletedEvent creates a PackageCompletedEvent.
func NewPackageCompletedEvent(pkg string, duration time.Duration, attempt int) PackageCompletedEvent {
	return PackageCompletedEvent{
		baseEvent: newBaseEvent(TypePackageCompleted),
		Package:   pkg,
		Duration:  duration,
		Attempt:   attempt,
	}
}

// PackageSkippedNoChangesEvent is emitted when a package finishes
// successfully but its executor reported there was nothing to do.
type PackageSkippedNoChangesEvent struct {
	baseEvent
	Package  string
	Duration time.Duration
}

// NewPackageSkippedNoChangesEvent creates a PackageSkippedNoChangesEvent.
func NewPackageSkippedNoChangesEvent(pkg string, duration time.Duration) PackageSkippedNoChangesEvent {
	return PackageSkippedNoChangesEvent{
		baseEvent: newBaseEvent(TypePackageSkippedNoChanges),
		Package:   pkg,
		Duration:  duration,
	}
}

// PackageFailedEvent is emitted when a package execution fails.
type PackageFailedEvent struct {
	baseEvent
	Package     string
	Error       string
	IsRetriable bool
	Attempt     int
	Duration    time.Duration
	Dependents  []string // Transitive dependents that will be skipped
}

// NewPackageFailedEvent creates a PackageFailedEvent.
func NewPackageFailedEvent(pkg, errMsg string, retriable bool, attempt int, duration time.Duration, dependents []string) PackageFailedEvent {
	return PackageFailedEvent{
		baseEvent:   newBaseEvent(TypePackageFailed),
		Package:     pkg,
		Error:       errMsg,
		IsRetriable: retriable,
		Attempt:     attempt,
		Duration:    duration,
		Dependents:  dependents,
	}
}

// PackageRetryingEvent is emitted when a package that failed in an earlier
// attempt is dispatched again.
type PackageRetryingEvent struct {
	baseEvent
	Package string
	Attempt int // The attempt about to start
}

// NewPackageRetryingEvent creates a PackageRetryingEvent.
func NewPackageRetryingEvent(pkg string, attempt int) PackageRetryingEvent {
	return PackageRetryingEvent{
		baseEvent: newBaseEvent(TypePackageRetrying),
		Package:   pkg,
		Attempt:   attempt,
	}
}

// PackageSkippedEvent is emitted when a package is cascade-skipped.
type PackageSkippedEvent struct {
	baseEvent
	Package string
	Cause   string // Package whose failure caused the skip
	Reason  string
}

// NewPackageSkippedEvent creates a PackageSkippedEvent.
func NewPackageSkippedEvent(pkg, cause, reason string) PackageSkippedEvent {
	return PackageSkippedEvent{
		baseEvent: newBaseEvent(TypePackageSkipped),
		Package:   pkg,
		Cause:     cause,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Checkpoint Events
// -----------------------------------------------------------------------------

// CheckpointSavedEvent is emitted after the checkpoint document is written.
type CheckpointSavedEvent struct {
	baseEvent
	Path      string
	Completed int
	Total     int
}

// NewCheckpointSavedEvent creates a CheckpointSavedEvent.
func NewCheckpointSavedEvent(path string, completed, total int) CheckpointSavedEvent {
	return CheckpointSavedEvent{
		baseEvent: newBaseEvent(TypeCheckpointSaved),
		Path:      path,
		Completed: completed,
		Total:     total,
	}
}
