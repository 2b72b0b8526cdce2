// Package errors provides centralized error definitions and error handling utilities
// for treebuild. It defines sentinel errors, typed domain errors carrying
// context, and classification helpers used by the scheduler and recovery tooling.
//
// # Error Types
//
// Domain-specific errors represent failures from specific subsystems:
//   - CycleError: the dependency graph contains a cycle
//   - PackageNotFoundError: an operator-supplied identifier did not resolve
//   - CheckpointCorruptError: a checkpoint file exists but cannot be used
//   - ExecutionError: a package command failed
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewPackageNotFoundError("core", []string{"api", "web"})
//
//	if errors.Is(err, errors.ErrPackageNotFound) { ... }
//
//	var notFound *errors.PackageNotFoundError
//	if errors.As(err, &notFound) {
//	    fmt.Println(notFound.Available)
//	}
//
// # Error Classification
//
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to operators
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Graph and scheduling sentinel errors
var (
	// ErrDependencyCycle indicates a circular dependency between packages.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrPackageNotFound indicates that a package identifier did not resolve.
	ErrPackageNotFound = New("package not found")
	// ErrExecutionFailed indicates that a package command failed.
	ErrExecutionFailed = New("package execution failed")
	// ErrUnsafeCommand indicates a command was rejected for parallel execution.
	ErrUnsafeCommand = New("command is not safe for parallel execution")
)

// Checkpoint sentinel errors
var (
	// ErrCheckpointNotFound indicates that no checkpoint exists.
	ErrCheckpointNotFound = New("checkpoint not found")
	// ErrCheckpointCorrupt indicates that checkpoint data could not be used.
	ErrCheckpointCorrupt = New("checkpoint corrupted")
	// ErrInvalidState indicates that execution state violates an invariant.
	ErrInvalidState = New("invalid execution state")
	// ErrCheckpointLocked indicates that another process owns the output
	// directory, usually a tree run in progress.
	ErrCheckpointLocked = New("checkpoint locked by another process")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// TreebuildError is the base interface for all treebuild errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type TreebuildError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// CycleError reports a dependency cycle found while building the graph.
// Cycle lists the package names along the cycle, with the first package
// repeated at the end.
//
// Example:
//
//	err := errors.NewCycleError([]string{"a", "b", "a"})
//	fmt.Println(err) // "dependency cycle detected: a -> b -> a"
type CycleError struct {
	baseError
	Cycle []string
}

// NewCycleError creates a new CycleError for the given cycle path.
func NewCycleError(cycle []string) *CycleError {
	return &CycleError{
		baseError: baseError{
			message:    "dependency cycle detected",
			severity:   SeverityCritical,
			userFacing: true,
		},
		Cycle: append([]string(nil), cycle...),
	}
}

// Error returns the formatted error message.
func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, strings.Join(e.Cycle, " -> "))
}

// Is checks if this error matches the target.
func (e *CycleError) Is(target error) bool {
	if _, ok := target.(*CycleError); ok {
		return true
	}
	return target == ErrDependencyCycle || e.baseError.Is(target)
}

// PackageNotFoundError reports an identifier that matched no package.
// Available lists every identifier the operator could have used.
//
// Example:
//
//	err := errors.NewPackageNotFoundError("cor", []string{"core", "web"})
//	fmt.Println(err) // "package 'cor' not found (available: core, web)"
type PackageNotFoundError struct {
	baseError
	Identifier string
	Available  []string
}

// NewPackageNotFoundError creates a new PackageNotFoundError.
func NewPackageNotFoundError(identifier string, available []string) *PackageNotFoundError {
	return &PackageNotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("package '%s' not found", identifier),
			severity:   SeverityError,
			userFacing: true,
		},
		Identifier: identifier,
		Available:  append([]string(nil), available...),
	}
}

// Error returns the formatted error message.
func (e *PackageNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return e.message
	}
	return fmt.Sprintf("%s (available: %s)", e.message, strings.Join(e.Available, ", "))
}

// Is checks if this error matches the target.
func (e *PackageNotFoundError) Is(target error) bool {
	if _, ok := target.(*PackageNotFoundError); ok {
		return true
	}
	return target == ErrPackageNotFound || e.baseError.Is(target)
}

// CheckpointCorruptError reports a checkpoint file that exists but does not
// parse or does not match the expected document shape. Callers treat it as
// "no checkpoint".
type CheckpointCorruptError struct {
	baseError
	Path string
}

// NewCheckpointCorruptError creates a new CheckpointCorruptError.
func NewCheckpointCorruptError(path string, cause error) *CheckpointCorruptError {
	return &CheckpointCorruptError{
		baseError: baseError{
			message:    "checkpoint corrupted",
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Path: path,
	}
}

// Error returns the formatted error message.
func (e *CheckpointCorruptError) Error() string {
	prefix := e.message
	if e.Path != "" {
		prefix = fmt.Sprintf("%s [path=%s]", e.message, e.Path)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Is checks if this error matches the target.
func (e *CheckpointCorruptError) Is(target error) bool {
	if _, ok := target.(*CheckpointCorruptError); ok {
		return true
	}
	return target == ErrCheckpointCorrupt || e.baseError.Is(target)
}

// ExecutionError represents a failed package command.
//
// Example:
//
//	err := errors.NewExecutionError("core", "build failed", cause).WithExitCode(2)
type ExecutionError struct {
	baseError
	Package  string
	ExitCode int
	Output   string
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(pkg, message string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Package:  pkg,
		ExitCode: -1,
	}
}

// WithExitCode records the process exit code.
func (e *ExecutionError) WithExitCode(code int) *ExecutionError {
	e.ExitCode = code
	return e
}

// WithOutput records the tail of the command output.
func (e *ExecutionError) WithOutput(output string) *ExecutionError {
	e.Output = output
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ExecutionError) WithRetryable(r bool) *ExecutionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	var parts []string
	if e.Package != "" {
		parts = append(parts, fmt.Sprintf("package=%s", e.Package))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}

	prefix := "execution error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("execution error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ExecutionError) Is(target error) bool {
	if _, ok := target.(*ExecutionError); ok {
		return true
	}
	return target == ErrExecutionFailed || e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("must be positive").WithField("maxConcurrency").WithValue(-1)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField sets the field that failed validation.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the invalid value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation error")
	if e.Field != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", e.Field))
	}
	sb.WriteString(": ")
	sb.WriteString(e.message)
	if e.Value != nil {
		sb.WriteString(fmt.Sprintf(" (got: %v)", e.Value))
	}
	if e.cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.cause))
	}
	return sb.String()
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidInput || e.baseError.Is(target)
}

// TimeoutError represents an operation that exceeded its time limit.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing TreebuildError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var tbErr TreebuildError
	if As(err, &tbErr) && tbErr.IsRetryable() {
		return true
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var tbErr TreebuildError
	if As(err, &tbErr) {
		return tbErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement TreebuildError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var tbErr TreebuildError
	if As(err, &tbErr) {
		return tbErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
