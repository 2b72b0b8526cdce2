package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/tui/styles"
	"github.com/Iron-Ham/treebuild/internal/util"
)

// View renders the model.
func (m Model) View() string {
	var b strings.Builder
	width := max(m.width, 20)

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderProgress())
	b.WriteString("\n")
	b.WriteString(m.renderCounts())
	b.WriteString("\n")

	if running := m.inBucket(checkpoint.BucketRunning); len(running) > 0 {
		b.WriteString(styles.SectionHeader.Render("Running"))
		b.WriteString("\n")
		for _, name := range running {
			b.WriteString(util.TruncateANSI(m.renderRunning(name), width))
			b.WriteString("\n")
		}
	}

	if failed := m.inBucket(checkpoint.BucketFailed); len(failed) > 0 {
		b.WriteString(styles.SectionHeader.Render("Failed"))
		b.WriteString("\n")
		for _, name := range failed {
			line := fmt.Sprintf("  %s %s", styles.Bucket("failed", styles.BucketIcon("failed")), name)
			if p := m.packages[name]; p.err != "" {
				line += styles.Muted.Render(": " + p.err)
			}
			b.WriteString(util.TruncateANSI(line, width))
			b.WriteString("\n")
		}
	}

	if len(m.activity) > 0 {
		b.WriteString(styles.SectionHeader.Render("Activity"))
		b.WriteString("\n")
		for _, line := range m.activity {
			b.WriteString(util.TruncateANSI(styles.Muted.Render("  "+line), width))
			b.WriteString("\n")
		}
	}

	b.WriteString(m.renderFooter())
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderHeader() string {
	title := styles.Title.UnsetMarginBottom().Render(m.title)
	var tags []string
	if m.executionID != "" {
		tags = append(tags, m.executionID)
	}
	if m.resumed {
		tags = append(tags, "resumed")
	}
	if m.dryRun {
		tags = append(tags, "dry run")
	}
	if m.maxConcurrency > 0 {
		tags = append(tags, fmt.Sprintf("concurrency %d", m.maxConcurrency))
	}
	elapsed := m.now.Sub(m.start)
	if m.summary != nil {
		elapsed = m.summary.Duration
	}
	tags = append(tags, util.FormatDuration(elapsed))
	return util.TruncateANSI(title+"  "+styles.Subtitle.Render(strings.Join(tags, " · ")), max(m.width, 20))
}

func (m Model) renderProgress() string {
	total := len(m.packages)
	c := m.counts()
	done := c[checkpoint.BucketCompleted] + c[checkpoint.BucketFailed] + c[checkpoint.BucketSkipped]
	pct := 0.0
	if total > 0 {
		pct = float64(done) / float64(total)
	}
	return fmt.Sprintf("%s %d/%d", m.progress.ViewAs(pct), done, total)
}

func (m Model) renderCounts() string {
	c := m.counts()
	parts := make([]string, 0, 5)
	for _, bucket := range []checkpoint.Bucket{
		checkpoint.BucketCompleted,
		checkpoint.BucketRunning,
		checkpoint.BucketFailed,
		checkpoint.BucketSkipped,
		checkpoint.BucketPending,
	} {
		name := bucket.String()
		parts = append(parts, styles.Bucket(name, fmt.Sprintf("%s %s %d", styles.BucketIcon(name), name, c[bucket])))
	}
	return util.TruncateANSI(strings.Join(parts, "  "), max(m.width, 20))
}

func (m Model) renderRunning(name string) string {
	p := m.packages[name]
	line := fmt.Sprintf("  %s %s", styles.Bucket("running", styles.BucketIcon("running")), name)
	details := util.FormatDuration(m.now.Sub(p.started))
	if p.attempt > 1 {
		details += fmt.Sprintf(", attempt %d", p.attempt)
	}
	return line + " " + styles.Muted.Render("("+details+")")
}

func (m Model) renderFooter() string {
	if !m.done {
		if m.cancelling {
			return styles.HelpBar.Render(styles.Warning.Render("cancelling...") + "  " + styles.HelpKey.Render("q") + " force quit")
		}
		return styles.HelpBar.Render(styles.HelpKey.Render("q") + " cancel run")
	}

	var status string
	switch {
	case m.runErr != nil:
		status = styles.Error.Render("error: " + m.runErr.Error())
	case m.summary != nil && m.summary.Success:
		status = styles.Secondary.Render("✓ all packages completed")
	case m.summary != nil && m.summary.Interrupted:
		status = styles.Warning.Render("interrupted; resume with `treebuild tree run --continue`")
	default:
		status = styles.Error.Render(fmt.Sprintf("%d package(s) failed; see `treebuild tree status`", len(m.inBucket(checkpoint.BucketFailed))))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.HelpBar.Render(status),
		styles.Muted.Render("press any key to exit"),
	)
}
