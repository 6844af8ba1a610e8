package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/winusb/types"
)

type progressMsg struct {
	event types.Progress
}

type doneMsg struct {
	report *types.InstallReport
	err    error
}

// InstallModel is a Bubble Tea model for a running install session.
type InstallModel struct {
	title    string
	total    int
	spinner  spinner.Model
	started  bool
	results  []types.DeviceResult
	report   *types.InstallReport
	err      error
	done     bool
	quitting bool
	width    int
}

// NewInstallModel creates a model for an install of total devices.
func NewInstallModel(title string, total int) InstallModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle
	return InstallModel{
		title:   title,
		total:   total,
		spinner: sp,
	}
}

// Init implements tea.Model.
func (m InstallModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m InstallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		switch ev := msg.event.(type) {
		case types.SessionStarted:
			m.started = true
		case types.DeviceOutcome:
			m.results = append(m.results, ev.Result)
		}
		return m, nil

	case doneMsg:
		m.done = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m InstallModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	for _, r := range m.results {
		if r.OK() {
			b.WriteString(SuccessStyle.Render("✓ "))
			b.WriteString(r.Device.String())
		} else {
			b.WriteString(ErrorStyle.Render("✗ "))
			b.WriteString(r.Device.String())
			b.WriteString(" ")
			b.WriteString(ErrorStyle.Render(r.Err))
		}
		b.WriteString("\n")
	}

	switch {
	case m.done:
		b.WriteString(m.tally())
	case m.quitting:
		b.WriteString(WarningStyle.Render("cancelling..."))
	default:
		phase := "waiting for elevated worker"
		if m.started {
			phase = fmt.Sprintf("installing %d/%d", len(m.results), m.total)
		}
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(phase)
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to cancel"))
	}
	return b.String() + "\n"
}

func (m InstallModel) tally() string {
	if m.report == nil {
		if m.err != nil {
			return ErrorStyle.Render("install failed: " + m.err.Error())
		}
		return ErrorStyle.Render("install failed")
	}
	line := fmt.Sprintf("%d/%d installed", m.report.Installed, m.report.Total)
	status := StatusStyle(string(m.report.Status)).Render(string(m.report.Status))
	out := TallyStyle.Render(line) + "  " + status
	if m.err != nil {
		out += "\n" + ErrorStyle.Render(m.err.Error())
	}
	return out
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
