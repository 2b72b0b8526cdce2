package pool

import (
	"context"
	"regexp"

	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/executor"
)

// transientPattern matches error codes and status lines that point at a
// transient condition rather than a defect in the package. Tokens must
// stand alone so paths and identifiers containing them do not match.
var transientPattern = regexp.MustCompile(`(?i)\b(?:etimedout|econnreset|econnrefused|eai_again|socket hang up|rate limit exceeded|429 too many requests|503 service unavailable)\b`)

// IsRetriable classifies a failed execution. Timeouts, errors flagged
// retryable, and failures whose error or output carries a transient
// network error code or status line are retriable. Everything else,
// including executor panics, is not.
func IsRetriable(res executor.Result) bool {
	if res.Success {
		return false
	}
	if res.Timeout {
		return true
	}
	if res.Err != nil {
		if errors.IsRetryable(res.Err) || errors.Is(res.Err, context.DeadlineExceeded) {
			return true
		}
	}
	return mentionsTransient(errorText(res.Err)) || mentionsTransient(res.Output)
}

func mentionsTransient(s string) bool {
	return s != "" && transientPattern.MatchString(s)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
