package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// CycleError Tests
// -----------------------------------------------------------------------------

func TestCycleError(t *testing.T) {
	err := NewCycleError([]string{"a", "b", "a"})

	if got, want := err.Error(), "dependency cycle detected: a -> b -> a"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrDependencyCycle) {
		t.Error("Is(ErrDependencyCycle) = false, want true")
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityCritical)
	}

	wrapped := fmt.Errorf("build graph: %w", err)
	var cycleErr *CycleError
	if !As(wrapped, &cycleErr) {
		t.Fatal("As(*CycleError) = false, want true")
	}
	if len(cycleErr.Cycle) != 3 {
		t.Errorf("Cycle = %v, want 3 entries", cycleErr.Cycle)
	}
}

func TestCycleError_CopiesPath(t *testing.T) {
	path := []string{"x", "y", "x"}
	err := NewCycleError(path)
	path[0] = "mutated"
	if err.Cycle[0] != "x" {
		t.Errorf("Cycle[0] = %q, want %q", err.Cycle[0], "x")
	}
}

// -----------------------------------------------------------------------------
// PackageNotFoundError Tests
// -----------------------------------------------------------------------------

func TestPackageNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *PackageNotFoundError
		want string
	}{
		{
			name: "no candidates",
			err:  NewPackageNotFoundError("core", nil),
			want: "package 'core' not found",
		},
		{
			name: "with candidates",
			err:  NewPackageNotFoundError("cor", []string{"core", "web"}),
			want: "package 'cor' not found (available: core, web)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPackageNotFoundError_Is(t *testing.T) {
	err := fmt.Errorf("mark completed: %w", NewPackageNotFoundError("x", []string{"y"}))

	if !Is(err, ErrPackageNotFound) {
		t.Error("Is(ErrPackageNotFound) = false, want true")
	}
	if !Is(err, &PackageNotFoundError{}) {
		t.Error("Is(&PackageNotFoundError{}) = false, want true")
	}
	if Is(err, ErrDependencyCycle) {
		t.Error("Is(ErrDependencyCycle) = true, want false")
	}
	if !IsUserFacing(err) {
		t.Error("IsUserFacing() = false, want true")
	}
}

// -----------------------------------------------------------------------------
// CheckpointCorruptError Tests
// -----------------------------------------------------------------------------

func TestCheckpointCorruptError(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := NewCheckpointCorruptError("/tmp/cp.json", cause)

	want := "checkpoint corrupted [path=/tmp/cp.json]: unexpected end of JSON input"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrCheckpointCorrupt) {
		t.Error("Is(ErrCheckpointCorrupt) = false, want true")
	}
	if !Is(err, cause) {
		t.Error("Is(cause) = false, want true")
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}
}

// -----------------------------------------------------------------------------
// ExecutionError Tests
// -----------------------------------------------------------------------------

func TestExecutionError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ExecutionError
		want string
	}{
		{
			name: "basic",
			err:  NewExecutionError("", "command failed", nil),
			want: "execution error: command failed",
		},
		{
			name: "with package and exit code",
			err:  NewExecutionError("core", "command failed", nil).WithExitCode(2),
			want: "execution error [package=core, exit=2]: command failed",
		},
		{
			name: "with cause",
			err:  NewExecutionError("web", "command failed", ErrTimeout),
			want: "execution error [package=web]: command failed: operation timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecutionError_Retryable(t *testing.T) {
	err := NewExecutionError("core", "failed", nil)
	if IsRetryable(err) {
		t.Error("IsRetryable() = true, want false by default")
	}
	err = err.WithRetryable(true)
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true after WithRetryable(true)")
	}
	if !Is(err, ErrExecutionFailed) {
		t.Error("Is(ErrExecutionFailed) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("must be positive").WithField("maxConcurrency").WithValue(-1)
	want := "validation error [maxConcurrency]: must be positive (got: -1)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("Is(ErrInvalidInput) = false, want true")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("npm run build", 5*time.Minute)
	if got, want := err.Error(), "timeout error: npm run build (timeout: 5m0s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(ErrTimeout) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Classification Helper Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"wrapped timeout sentinel", fmt.Errorf("x: %w", ErrTimeout), true},
		{"timeout error", NewTimeoutError("op", time.Second), true},
		{"cycle error", NewCycleError([]string{"a", "a"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want %v", got, SeverityDebug)
	}
	if got := GetSeverity(errors.New("x")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want %v", got, SeverityError)
	}
	if got := GetSeverity(NewCycleError(nil)); got != SeverityCritical {
		t.Errorf("GetSeverity(cycle) = %v, want %v", got, SeverityCritical)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	err := Wrapf(ErrCheckpointNotFound, "load %s", "dir")
	if got, want := err.Error(), "load dir: checkpoint not found"; got != want {
		t.Errorf("Wrapf() = %q, want %q", got, want)
	}
	if !Is(err, ErrCheckpointNotFound) {
		t.Error("Is(ErrCheckpointNotFound) = false, want true")
	}
}
