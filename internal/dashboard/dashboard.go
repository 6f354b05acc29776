// Package dashboard is a read-only operator view over a previewd
// process: connected viewers, last compile status, document version. It
// never participates in the data-plane or control-plane protocols (§4.6).
package dashboard

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Status is one snapshot of process-wide operator-facing state.
type Status struct {
	ConnectedViewers int
	LastCompile      string
	DocumentVersion  uint64
	LastEvent        string
	UpdatedAt        time.Time
}

// statusMsg carries a Status update into the bubbletea program.
type statusMsg Status

// Feed lets the rest of the process push Status updates into a running
// dashboard program without importing bubbletea itself.
type Feed struct {
	program *tea.Program
}

// Push sends a new status snapshot to the dashboard, coalescing with
// whatever the program hasn't yet redrawn — bubbletea's own mailbox
// does the coalescing here.
func (f *Feed) Push(s Status) {
	if f == nil || f.program == nil {
		return
	}
	f.program.Send(statusMsg(s))
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type model struct {
	status  Status
	spinner spinner.Model
}

func newModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return model{spinner: s}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.status = Status(msg)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	compileLine := labelStyle.Render("compile: ") + valueStyle.Render(m.status.LastCompile)
	if m.status.LastCompile == "CompileError" {
		compileLine = labelStyle.Render("compile: ") + errorStyle.Render(m.status.LastCompile)
	}

	lines := []string{
		titleStyle.Render(m.spinner.View() + " previewd dashboard"),
		"",
		labelStyle.Render("viewers:  ") + valueStyle.Render(fmt.Sprintf("%d", m.status.ConnectedViewers)),
		labelStyle.Render("version:  ") + valueStyle.Render(fmt.Sprintf("%d", m.status.DocumentVersion)),
		compileLine,
		labelStyle.Render("last event: ") + m.status.LastEvent,
		"",
		labelStyle.Render("press q to quit dashboard (previewd keeps running)"),
	}

	var out string
	for _, line := range lines {
		out += line + "\n"
	}
	return out
}

// New constructs a bubbletea program and the Feed used to push status
// updates into it. Callers start it with the returned program's Run.
func New() (*tea.Program, *Feed) {
	program := tea.NewProgram(newModel())
	return program, &Feed{program: program}
}
