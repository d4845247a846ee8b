package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/anvil/internal/ipc"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StatusSource is what the watch view polls, normally an ipc.Client.
type StatusSource interface {
	Status() (*ipc.Status, error)
	ToggleOverlay() error
}

type (
	statusMsg struct{ status *ipc.Status }
	errMsg    struct{ err error }
	tickMsg   time.Time
)

// StatusModel is the Bubble Tea model behind `anvil status --watch`.
type StatusModel struct {
	source   StatusSource
	interval time.Duration

	spinner  spinner.Model
	outputs  table.Model
	surfaces table.Model

	status   *ipc.Status
	err      error
	updated  time.Time
	width    int
	quitting bool
}

// NewStatusModel polls source every interval.
func NewStatusModel(source StatusSource, interval time.Duration) *StatusModel {
	s := spinner.New()
	s.Spinner = spinner.Spinner{Frames: SpinnerDot, FPS: time.Second / 10}
	s.Style = SpinnerStyle

	if interval <= 0 {
		interval = time.Second
	}
	return &StatusModel{
		source:   source,
		interval: interval,
		spinner:  s,
		outputs:  newTable(outputColumns),
		surfaces: newTable(surfaceColumns),
	}
}

// Init implements tea.Model
func (m *StatusModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m *StatusModel) fetch() tea.Cmd {
	return func() tea.Msg {
		st, err := m.source.Status()
		if err != nil {
			return errMsg{err}
		}
		return statusMsg{st}
	}
}

func (m *StatusModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model
func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "o":
			return m, func() tea.Msg {
				if err := m.source.ToggleOverlay(); err != nil {
					return errMsg{err}
				}
				st, err := m.source.Status()
				if err != nil {
					return errMsg{err}
				}
				return statusMsg{st}
			}
		case "r":
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case statusMsg:
		m.setStatus(msg.status)
		return m, m.tick()

	case errMsg:
		m.err = msg.err
		return m, m.tick()

	case tickMsg:
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *StatusModel) setStatus(st *ipc.Status) {
	m.status = st
	m.err = nil
	m.updated = time.Now()
	m.outputs.SetRows(OutputRows(st.Outputs))
	m.outputs.SetHeight(len(st.Outputs) + 3)
	m.surfaces.SetRows(SurfaceRows(st.Surfaces))
	m.surfaces.SetHeight(len(st.Surfaces) + 3)
}

// View implements tea.Model
func (m *StatusModel) View() string {
	if m.quitting {
		return ""
	}

	var sections []string
	sections = append(sections, TitleStyle.Render("anvil"))

	switch {
	case m.status == nil && m.err == nil:
		sections = append(sections, m.spinner.View()+" connecting to compositor...")
	case m.err != nil:
		sections = append(sections, FormatRunning(false, ErrorStyle.Render(m.err.Error())))
		if m.status != nil {
			sections = append(sections, MutedStyle.Render(fmt.Sprintf("last update %s", m.updated.Format(time.TimeOnly))))
		}
	default:
		st := m.status
		sections = append(sections,
			Headline(st),
			HeaderStyle.Render(fmt.Sprintf("Outputs (%d)", len(st.Outputs))),
			m.outputs.View(),
			HeaderStyle.Render(fmt.Sprintf("Surfaces (%d)", len(st.Surfaces))),
		)
		if len(st.Surfaces) == 0 {
			sections = append(sections, MutedStyle.Render("  no surfaces"))
		} else {
			sections = append(sections, m.surfaces.View())
		}
		sections = append(sections,
			HeaderStyle.Render(fmt.Sprintf("Input devices (%d)", len(st.Devices))),
			DeviceLines(st.Devices),
		)
	}

	help := strings.Join([]string{
		FormatControl("q", "quit"),
		FormatControl("o", "toggle overlay"),
		FormatControl("r", "refresh"),
	}, SubtleStyle.Render("  ·  "))
	sections = append(sections, "", CreateSeparator(m.width), help)

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

// RunStatus runs the watch view until the user quits.
func RunStatus(source StatusSource, interval time.Duration) error {
	_, err := tea.NewProgram(NewStatusModel(source, interval), tea.WithAltScreen()).Run()
	return err
}
