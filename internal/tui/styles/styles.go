// Package styles holds the lipgloss palette shared by the status view and the
// live run progress model.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray
	BlueColor      = lipgloss.Color("#60A5FA")

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	// Bucket colors
	BucketPending   = lipgloss.Color("#9CA3AF") // Gray
	BucketReady     = lipgloss.Color("#60A5FA") // Blue
	BucketRunning   = lipgloss.Color("#10B981") // Green
	BucketCompleted = lipgloss.Color("#A78BFA") // Purple
	BucketFailed    = lipgloss.Color("#F87171") // Red
	BucketSkipped   = lipgloss.Color("#FB923C") // Orange

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	SectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor).
			MarginTop(1)

	ContentBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	Label = lipgloss.NewStyle().
		Foreground(MutedColor).
		Width(12)

	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	Command = lipgloss.NewStyle().
		Foreground(BlueColor)
)

// BucketColor returns the color for a checkpoint bucket name.
func BucketColor(bucket string) lipgloss.Color {
	switch bucket {
	case "pending":
		return BucketPending
	case "ready":
		return BucketReady
	case "running":
		return BucketRunning
	case "completed":
		return BucketCompleted
	case "failed":
		return BucketFailed
	case "skipped":
		return BucketSkipped
	default:
		return MutedColor
	}
}

// BucketIcon returns an icon for a checkpoint bucket name.
func BucketIcon(bucket string) string {
	switch bucket {
	case "pending":
		return "○"
	case "ready":
		return "◌"
	case "running":
		return "●"
	case "completed":
		return "✓"
	case "failed":
		return "✗"
	case "skipped":
		return "⊘"
	default:
		return "●"
	}
}

// HintColor returns the color for a recovery hint severity.
func HintColor(kind string) lipgloss.Color {
	switch kind {
	case "error":
		return ErrorColor
	case "warning":
		return WarningColor
	default:
		return BlueColor
	}
}

// Bucket renders text in the color of the named bucket.
func Bucket(bucket, text string) string {
	return lipgloss.NewStyle().Foreground(BucketColor(bucket)).Render(text)
}
