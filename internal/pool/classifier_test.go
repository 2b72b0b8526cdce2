package pool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/executor"
)

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		res  executor.Result
		want bool
	}{
		{"success", executor.Result{Success: true, Timeout: true}, false},
		{"timeout flag", executor.Result{Timeout: true}, true},
		{"timeout error", executor.Result{Err: errors.NewTimeoutError("npm publish", time.Minute)}, true},
		{"deadline", executor.Result{Err: fmt.Errorf("run: %w", context.DeadlineExceeded)}, true},
		{"connection reset in output", executor.Result{Err: errors.New("exit status 1"), Output: "npm ERR! code ECONNRESET"}, true},
		{"rate limited", executor.Result{Err: errors.New("registry says: Rate Limit exceeded")}, true},
		{"explicitly retryable", executor.Result{Err: errors.NewExecutionError("core", "flaky", nil).WithRetryable(true)}, true},
		{"compile error", executor.Result{Err: errors.New("exit status 2"), Output: "TS2304: Cannot find name 'foo'"}, false},
		{"type error in network file", executor.Result{
			Err:    errors.NewExecutionError("ui", "build failed", nil).WithExitCode(2),
			Output: "src/network-panel.tsx(12,5): error TS2322: Type 'string' is not assignable to type 'number'.",
		}, false},
		{"identifier containing code", executor.Result{Err: errors.New("exit status 1"), Output: "undefined: handleETIMEDOUTRetry"}, false},
		{"too many requests status", executor.Result{Err: errors.New("exit status 1"), Output: "npm ERR! 429 Too Many Requests - PUT https://registry.npmjs.org/core"}, true},
		{"dns lookup", executor.Result{Err: errors.New("getaddrinfo EAI_AGAIN registry.npmjs.org")}, true},
		{"no error", executor.Result{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.res); got != tt.want {
				t.Errorf("IsRetriable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConcurrencyTracker(t *testing.T) {
	start := time.Unix(0, 0)
	tr := newConcurrencyTracker(start)
	tr.set(2, start)
	tr.set(1, start.Add(2*time.Second))
	tr.set(0, start.Add(4*time.Second))

	m := tr.metrics(start.Add(4 * time.Second))
	if m.PeakConcurrency != 2 {
		t.Errorf("PeakConcurrency = %d, want 2", m.PeakConcurrency)
	}
	// (2×2s + 1×2s) / 4s
	if m.AverageConcurrency != 1.5 {
		t.Errorf("AverageConcurrency = %v, want 1.5", m.AverageConcurrency)
	}
}
