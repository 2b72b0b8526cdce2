package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/treebuild/internal/event"
)

// App wraps the Bubbletea program
type App struct {
	program *tea.Program
	bus     *event.Bus
	subID   string
}

// New creates a new TUI application. The program is created up front so
// events published before Run are queued until it starts.
func New(title string, cancel func(), opts ...tea.ProgramOption) *App {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &App{program: tea.NewProgram(NewModel(title, cancel), opts...)}
}

// Attach forwards every event published on bus to the program.
func (a *App) Attach(bus *event.Bus) {
	a.bus = bus
	a.subID = bus.SubscribeAll(func(e event.Event) {
		a.program.Send(eventMsg{event: e})
	})
}

// Finish tells the model the run has returned.
func (a *App) Finish(err error) {
	a.program.Send(runDoneMsg{err: err})
}

// Run starts the TUI application and blocks until the user exits.
func (a *App) Run() error {
	_, err := a.program.Run()
	if a.bus != nil {
		a.bus.Unsubscribe(a.subID)
	}
	return err
}
