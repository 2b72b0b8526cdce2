package recovery

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/tui/styles"
	"github.com/Iron-Ham/treebuild/internal/util"
)

const (
	defaultStatusWidth = 80
	maxBarWidth        = 60
	skippedListLimit   = 8
)

// RunningStatus is a running entry with its elapsed time.
type RunningStatus struct {
	Name    string        `json:"name"`
	Elapsed time.Duration `json:"elapsed"`
}

// Status is a read-only snapshot of a checkpoint for display.
type Status struct {
	ExecutionID      string                     `json:"executionId"`
	Command          string                     `json:"command,omitempty"`
	Counts           checkpoint.Counts          `json:"counts"`
	Percent          float64                    `json:"percent"`
	Running          []RunningStatus            `json:"running"`
	Failed           []checkpoint.FailedPackage `json:"failed"`
	Skipped          []string                   `json:"skipped"`
	SkippedNoChanges int                        `json:"skippedNoChanges"`
	Hints            []Hint                     `json:"hints"`
	Validation       ValidationResult           `json:"validation"`
	StartedAt        time.Time                  `json:"startedAt"`
	LastUpdated      time.Time                  `json:"lastUpdated"`
}

// Status builds a display snapshot, including hints and validation.
func (m *Manager) Status() Status {
	s := m.state
	now := m.now()
	counts := s.Counts()

	st := Status{
		ExecutionID:      s.ExecutionID,
		Command:          s.Command,
		Counts:           counts,
		Failed:           failedInOrder(s),
		Skipped:          s.Members(checkpoint.BucketSkipped),
		SkippedNoChanges: len(s.SkippedNoChanges),
		Hints:            m.GenerateRecoveryHints(),
		Validation:       m.ValidateState(),
		StartedAt:        s.TotalStartTime,
		LastUpdated:      s.LastUpdated,
	}
	s.SortByBuildOrder(st.Skipped)
	if counts.Total > 0 {
		st.Percent = float64(counts.Done()) / float64(counts.Total)
	}
	for _, r := range s.Running {
		st.Running = append(st.Running, RunningStatus{Name: r.Name, Elapsed: now.Sub(r.StartTime)})
	}
	return st
}

// RenderOptions controls RenderStatus.
type RenderOptions struct {
	// Width in columns; zero uses 80.
	Width     int
	ShowHints bool
}

// RenderStatus renders a status snapshot for a terminal.
func RenderStatus(st Status, opts RenderOptions) string {
	width := opts.Width
	if width <= 0 {
		width = defaultStatusWidth
	}
	var b strings.Builder
	line := func(s string) {
		b.WriteString(util.TruncateANSI(s, width))
		b.WriteByte('\n')
	}

	b.WriteString(styles.Title.Render("Tree execution " + st.ExecutionID))
	b.WriteByte('\n')
	if st.Command != "" {
		line(styles.Label.Render("Command") + styles.Command.Render(st.Command))
	}
	if !st.StartedAt.IsZero() {
		line(styles.Label.Render("Started") + st.StartedAt.Local().Format(time.DateTime))
	}
	if !st.LastUpdated.IsZero() {
		line(styles.Label.Render("Updated") + st.LastUpdated.Local().Format(time.DateTime))
	}
	b.WriteByte('\n')

	barWidth := min(width-20, maxBarWidth)
	if barWidth < 10 {
		barWidth = 10
	}
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth), progress.WithoutPercentage())
	line(fmt.Sprintf("%s %3.0f%% (%d/%d)", bar.ViewAs(st.Percent), st.Percent*100, st.Counts.Done(), st.Counts.Total))

	c := st.Counts
	parts := []string{
		countLabel(checkpoint.BucketCompleted, c.Completed),
		countLabel(checkpoint.BucketRunning, c.Running),
		countLabel(checkpoint.BucketReady, c.Ready),
		countLabel(checkpoint.BucketPending, c.Pending),
		countLabel(checkpoint.BucketFailed, c.Failed),
		countLabel(checkpoint.BucketSkipped, c.Skipped),
	}
	summary := strings.Join(parts, "  ")
	if st.SkippedNoChanges > 0 {
		summary += styles.Muted.Render(fmt.Sprintf("  (%d without changes)", st.SkippedNoChanges))
	}
	line(summary)

	if len(st.Running) > 0 {
		b.WriteString(styles.SectionHeader.Render("Running"))
		b.WriteByte('\n')
		for _, r := range st.Running {
			line("  " + styles.Bucket(string(checkpoint.BucketRunning), styles.BucketIcon("running")+" "+r.Name) +
				"  " + styles.Muted.Render(util.FormatDuration(r.Elapsed)))
		}
	}

	if len(st.Failed) > 0 {
		b.WriteString(styles.SectionHeader.Render("Failed"))
		b.WriteByte('\n')
		for _, f := range st.Failed {
			tag := "permanent"
			if f.IsRetriable {
				tag = "retriable"
			}
			msg := "  " + styles.Bucket(string(checkpoint.BucketFailed), styles.BucketIcon("failed")+" "+f.Name) +
				"  " + styles.Muted.Render("("+tag+")")
			if first := util.FirstLine(f.Error); first != "" {
				msg += "  " + first
			}
			line(msg)
		}
	}

	if len(st.Skipped) > 0 {
		b.WriteString(styles.SectionHeader.Render("Skipped"))
		b.WriteByte('\n')
		line("  " + styles.Bucket(string(checkpoint.BucketSkipped), styles.BucketIcon("skipped")+" "+util.JoinLimited(st.Skipped, skippedListLimit)))
	}

	if opts.ShowHints && len(st.Hints) > 0 {
		b.WriteString(styles.SectionHeader.Render("Recovery"))
		b.WriteByte('\n')
		for _, h := range st.Hints {
			tag := lipgloss.NewStyle().Foreground(styles.HintColor(string(h.Type))).Render("[" + string(h.Type) + "]")
			line("  " + tag + " " + h.Message)
			if h.SuggestedCommand != "" {
				line("      " + styles.Muted.Render("$ ") + styles.Command.Render(h.SuggestedCommand))
			}
		}
	}
	return b.String()
}

// ShowStatus renders the current status to w. When opts.Width is zero and
// w is a terminal, the terminal width is used.
func (m *Manager) ShowStatus(w io.Writer, opts RenderOptions) error {
	if opts.Width <= 0 {
		opts.Width = TerminalWidth(w)
	}
	_, err := io.WriteString(w, RenderStatus(m.Status(), opts))
	return err
}

// TerminalWidth returns the column count of w when it is a terminal, or the
// default width otherwise.
func TerminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return defaultStatusWidth
}

func countLabel(b checkpoint.Bucket, n int) string {
	return styles.Bucket(string(b), fmt.Sprintf("%s %s %d", styles.BucketIcon(string(b)), b, n))
}

func failedInOrder(s *checkpoint.State) []checkpoint.FailedPackage {
	names := s.Members(checkpoint.BucketFailed)
	s.SortByBuildOrder(names)
	out := make([]checkpoint.FailedPackage, 0, len(names))
	for _, name := range names {
		if f, ok := s.FailedEntry(name); ok {
			out = append(out, f)
		}
	}
	return out
}
