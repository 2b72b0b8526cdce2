package recovery

import (
	"fmt"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/util"
)

// HintType is the severity of a recovery hint.
type HintType string

const (
	HintInfo    HintType = "info"
	HintWarning HintType = "warning"
	HintError   HintType = "error"
)

// Hint is a human-facing suggestion derived from the checkpoint.
type Hint struct {
	Type    HintType `json:"type"`
	Message string   `json:"message"`
	// Actionable is set when SuggestedCommand (or an operator action)
	// addresses the hint.
	Actionable       bool   `json:"actionable"`
	SuggestedCommand string `json:"suggestedCommand,omitempty"`
}

// CommandPrefix is prepended to suggested commands.
const CommandPrefix = "treebuild tree"

// GenerateRecoveryHints derives suggestions from the current state:
// consistency problems, retriable and non-retriable failures, long-running
// packages, and remaining work.
func (m *Manager) GenerateRecoveryHints() []Hint {
	s := m.state
	var hints []Hint

	if v := m.ValidateState(); !v.Valid {
		hints = append(hints, Hint{
			Type:             HintError,
			Message:          fmt.Sprintf("checkpoint has %d consistency issue(s): %s", len(v.Issues), v.Issues[0]),
			Actionable:       true,
			SuggestedCommand: CommandPrefix + " validate-state",
		})
	}

	var retriable, permanent []checkpoint.FailedPackage
	for _, f := range s.Failed {
		if f.IsRetriable {
			retriable = append(retriable, f)
		} else {
			permanent = append(permanent, f)
		}
	}

	if len(retriable) > 0 {
		hints = append(hints, Hint{
			Type:             HintInfo,
			Message:          fmt.Sprintf("%d failed package(s) look transient: %s", len(retriable), util.JoinLimited(failedNames(s, retriable), m.maxHints)),
			Actionable:       true,
			SuggestedCommand: CommandPrefix + " retry-failed && " + CommandPrefix + " run --continue",
		})
	}

	for i, f := range permanent {
		if i == m.maxHints {
			hints = append(hints, Hint{
				Type:    HintInfo,
				Message: fmt.Sprintf("%d more failed package(s) not shown", len(permanent)-m.maxHints),
			})
			break
		}
		msg := fmt.Sprintf("package %q failed", f.Name)
		if line := util.FirstLine(f.Error); line != "" {
			msg += ": " + util.TruncateString(line, 120)
		}
		hints = append(hints, Hint{
			Type:             HintWarning,
			Message:          msg + "; fix it, then mark it completed",
			Actionable:       true,
			SuggestedCommand: CommandPrefix + " mark-completed " + f.Name,
		})
	}
	if len(permanent) > 0 {
		hints = append(hints, Hint{
			Type:             HintInfo,
			Message:          "to continue without the failed packages and their dependents, skip them",
			Actionable:       true,
			SuggestedCommand: CommandPrefix + " skip-failed && " + CommandPrefix + " run --continue",
		})
	}

	now := m.now()
	for _, r := range s.Running {
		if elapsed := now.Sub(r.StartTime); elapsed > m.longRunningAfter {
			hints = append(hints, Hint{
				Type:    HintWarning,
				Message: fmt.Sprintf("package %q has been running for %s", r.Name, util.FormatDuration(elapsed)),
			})
		}
	}

	remaining := len(s.Pending) + len(s.Ready)
	switch {
	case remaining > 0 && len(s.Failed) == 0 && len(s.Running) == 0:
		hints = append(hints, Hint{
			Type:             HintInfo,
			Message:          fmt.Sprintf("%d package(s) have not run yet", remaining),
			Actionable:       true,
			SuggestedCommand: CommandPrefix + " run --continue",
		})
	case s.IsFinished() && len(s.Failed) == 0 && len(hints) == 0:
		hints = append(hints, Hint{
			Type:    HintInfo,
			Message: "all packages are done; nothing to recover",
		})
	}
	return hints
}

func failedNames(s *checkpoint.State, failed []checkpoint.FailedPackage) []string {
	names := make([]string, len(failed))
	for i, f := range failed {
		names[i] = f.Name
	}
	s.SortByBuildOrder(names)
	return names
}
