// Package tui renders live progress for `tree run --tui`. The model is fed
// by the scheduler's event bus and never touches the checkpoint.
package tui

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/treebuild/internal/checkpoint"
	"github.com/Iron-Ham/treebuild/internal/event"
	"github.com/Iron-Ham/treebuild/internal/util"
)

// maxActivity bounds the recent activity list.
const maxActivity = 8

// packageView is what the model knows about one package.
type packageView struct {
	bucket    checkpoint.Bucket
	attempt   int
	started   time.Time
	duration  time.Duration
	err       string
	cause     string
	noChanges bool
}

// Model is the bubbletea model for a running tree execution.
type Model struct {
	title string

	executionID    string
	order          []string
	packages       map[string]*packageView
	maxConcurrency int
	resumed        bool
	dryRun         bool
	checkpointPath string

	activity []string
	progress progress.Model

	width  int
	height int
	start  time.Time
	now    time.Time

	summary    *event.ExecutionCompletedEvent
	runErr     error
	done       bool
	cancelling bool
	cancel     func()
}

// NewModel creates a model. cancel is called when the user asks to stop
// the run; it may be nil.
func NewModel(title string, cancel func()) Model {
	now := time.Now()
	return Model{
		title:    title,
		packages: make(map[string]*packageView),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width:    80,
		start:    now,
		now:      now,
		cancel:   cancel,
	}
}

// Messages

type tickMsg time.Time

// eventMsg carries a scheduler event into the update loop.
type eventMsg struct {
	event event.Event
}

// runDoneMsg is sent when Execute returns.
type runDoneMsg struct {
	err error
}

// Commands

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the elapsed-time ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(min(msg.Width-20, 60), 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tick()

	case eventMsg:
		m.apply(msg.event)
		return m, nil

	case runDoneMsg:
		m.done = true
		m.runErr = msg.err
		m.now = time.Now()
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		if m.done || m.cancelling {
			return m, tea.Quit
		}
		m.cancelling = true
		m.addActivity("cancelling: waiting for running packages to stop")
		if m.cancel != nil {
			m.cancel()
		}
		return m, nil
	}
	if m.done {
		return m, tea.Quit
	}
	return m, nil
}

// apply folds a scheduler event into the model.
func (m *Model) apply(e event.Event) {
	switch e := e.(type) {
	case event.ExecutionStartedEvent:
		m.executionID = e.ExecutionID
		m.order = slices.Clone(e.BuildOrder)
		m.maxConcurrency = e.MaxConcurrency
		m.resumed = e.Resumed
		m.dryRun = e.DryRun
		m.start = e.Timestamp()
		m.packages = make(map[string]*packageView, len(e.BuildOrder))
		for _, name := range e.BuildOrder {
			m.packages[name] = &packageView{bucket: checkpoint.BucketPending}
		}
		for _, name := range e.Completed {
			m.pkg(name).bucket = checkpoint.BucketCompleted
		}
		for _, name := range e.Failed {
			m.pkg(name).bucket = checkpoint.BucketFailed
		}
		for _, name := range e.Skipped {
			m.pkg(name).bucket = checkpoint.BucketSkipped
		}
		if e.Resumed {
			m.addActivity(fmt.Sprintf("resumed execution %s", e.ExecutionID))
		}

	case event.PackageStartedEvent:
		p := m.pkg(e.Package)
		p.bucket = checkpoint.BucketRunning
		p.attempt = e.Attempt
		p.started = e.Timestamp()
		p.err = ""

	case event.PackageRetryingEvent:
		m.addActivity(fmt.Sprintf("retrying %s (attempt %d)", e.Package, e.Attempt))

	case event.PackageCompletedEvent:
		p := m.pkg(e.Package)
		p.bucket = checkpoint.BucketCompleted
		p.duration = e.Duration
		m.addActivity(fmt.Sprintf("%s completed in %s", e.Package, util.FormatDuration(e.Duration)))

	case event.PackageSkippedNoChangesEvent:
		p := m.pkg(e.Package)
		p.bucket = checkpoint.BucketCompleted
		p.duration = e.Duration
		p.noChanges = true
		m.addActivity(fmt.Sprintf("%s had no changes", e.Package))

	case event.PackageFailedEvent:
		p := m.pkg(e.Package)
		p.bucket = checkpoint.BucketFailed
		p.duration = e.Duration
		p.err = util.FirstLine(e.Error)
		m.addActivity(fmt.Sprintf("%s failed: %s", e.Package, p.err))

	case event.PackageSkippedEvent:
		p := m.pkg(e.Package)
		p.bucket = checkpoint.BucketSkipped
		p.cause = e.Cause

	case event.CheckpointSavedEvent:
		m.checkpointPath = e.Path

	case event.ExecutionCompletedEvent:
		m.summary = &e
	}
}

func (m *Model) pkg(name string) *packageView {
	p, ok := m.packages[name]
	if !ok {
		p = &packageView{bucket: checkpoint.BucketPending}
		m.packages[name] = p
		m.order = append(m.order, name)
	}
	return p
}

func (m *Model) addActivity(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > maxActivity {
		m.activity = m.activity[len(m.activity)-maxActivity:]
	}
}

// counts tallies packages per bucket.
func (m Model) counts() map[checkpoint.Bucket]int {
	c := make(map[checkpoint.Bucket]int, 6)
	for _, p := range m.packages {
		c[p.bucket]++
	}
	return c
}

// inBucket returns the packages of b in build order.
func (m Model) inBucket(b checkpoint.Bucket) []string {
	var out []string
	for _, name := range m.order {
		if p := m.packages[name]; p != nil && p.bucket == b {
			out = append(out, name)
		}
	}
	return out
}

// Done reports whether the run has returned.
func (m Model) Done() bool {
	return m.done
}

// Err returns the error the run returned, if any.
func (m Model) Err() error {
	return m.runErr
}
