package recovery

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/util"
)

// ValidationResult reports the consistency of a checkpoint. Issues make the
// state invalid; warnings do not.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

// ValidateState checks that bucket membership is exclusive and complete,
// that completed packages only depend on completed packages, and warns
// about running entries older than the stale threshold.
func (m *Manager) ValidateState() ValidationResult {
	s := m.state
	res := ValidationResult{Issues: []string{}, Warnings: []string{}}

	tracked := make(map[string]bool)
	var names []string
	for _, b := range checkpoint.Buckets() {
		members := s.Members(b)
		seen := make(map[string]bool, len(members))
		for _, name := range members {
			if seen[name] {
				res.Issues = append(res.Issues, fmt.Sprintf("package %q is listed more than once in %s", name, b))
			}
			seen[name] = true
			if !tracked[name] {
				tracked[name] = true
				names = append(names, name)
			}
		}
	}
	s.SortByBuildOrder(names)

	for _, name := range names {
		buckets := s.BucketsOf(name)
		if len(buckets) > 1 {
			labels := make([]string, len(buckets))
			for i, b := range buckets {
				labels[i] = string(b)
			}
			res.Issues = append(res.Issues, fmt.Sprintf("package %q appears in multiple buckets: %s", name, strings.Join(labels, ", ")))
		}
		if !slices.Contains(s.BuildOrder, name) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("package %q is tracked but not in the build order", name))
		}
	}

	for _, name := range s.BuildOrder {
		if !tracked[name] {
			res.Issues = append(res.Issues, fmt.Sprintf("package %q is not in any bucket", name))
		}
	}

	completed := s.Members(checkpoint.BucketCompleted)
	s.SortByBuildOrder(completed)
	for _, name := range completed {
		for _, dep := range m.graph.Dependencies(name) {
			if !s.IsCompleted(dep) {
				res.Issues = append(res.Issues, fmt.Sprintf("completed package %q depends on %q, which is not completed", name, dep))
			}
		}
	}

	for _, name := range m.graph.Names() {
		if !slices.Contains(s.BuildOrder, name) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("package %q is in the workspace but not in the checkpoint", name))
		}
	}

	now := m.now()
	for _, r := range s.Running {
		if elapsed := now.Sub(r.StartTime); elapsed > m.staleAfter {
			res.Warnings = append(res.Warnings, fmt.Sprintf("package %q has been running for %s and may be stuck", r.Name, util.FormatDuration(elapsed)))
		}
	}

	res.Valid = len(res.Issues) == 0
	return res
}
