package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/anvil/internal/ipc"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	outputColumns = []table.Column{
		{Title: "ID", Width: 3},
		{Title: "Name", Width: 12},
		{Title: "Mode", Width: 20},
		{Title: "Position", Width: 11},
		{Title: "Size (mm)", Width: 10},
		{Title: "State", Width: 10},
		{Title: "FPS", Width: 6},
		{Title: "Frames", Width: 9},
		{Title: "Dropped", Width: 8},
	}
	surfaceColumns = []table.Column{
		{Title: "Handle", Width: 8},
		{Title: "Title", Width: 24},
		{Title: "Role", Width: 10},
		{Title: "Geometry", Width: 20},
		{Title: "Flags", Width: 12},
	}
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorSubtle).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Selected = s.Selected.Foreground(ColorText).Bold(false)
	return s
}

func newTable(cols []table.Column) table.Model {
	return table.New(
		table.WithColumns(cols),
		table.WithFocused(false),
		table.WithStyles(tableStyles()),
	)
}

// OutputRows turns output status into table rows.
func OutputRows(outputs []ipc.OutputStatus) []table.Row {
	rows := make([]table.Row, 0, len(outputs))
	for _, o := range outputs {
		size := "-"
		if o.PhysWidth > 0 && o.PhysHeight > 0 {
			size = fmt.Sprintf("%dx%d", o.PhysWidth, o.PhysHeight)
		}
		rows = append(rows, table.Row{
			fmt.Sprint(o.ID),
			o.Name,
			o.Mode,
			fmt.Sprintf("%d,%d", o.X, o.Y),
			size,
			o.State,
			fmt.Sprintf("%.1f", o.FPS),
			humanize.Comma(int64(o.Presented)),
			humanize.Comma(int64(o.Dropped)),
		})
	}
	return rows
}

// SurfaceRows turns surface status into table rows.
func SurfaceRows(surfaces []ipc.SurfaceStatus) []table.Row {
	rows := make([]table.Row, 0, len(surfaces))
	for _, s := range surfaces {
		var flags []string
		if s.Mapped {
			flags = append(flags, "mapped")
		}
		if s.Debug {
			flags = append(flags, "debug")
		}
		title := s.Title
		if title == "" {
			title = "-"
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%#x", s.Handle),
			title,
			s.Role,
			fmt.Sprintf("%dx%d+%d+%d", s.Width, s.Height, s.X, s.Y),
			strings.Join(flags, ","),
		})
	}
	return rows
}

// Headline summarizes the compositor in one line.
func Headline(st *ipc.Status) string {
	parts := []string{
		"backend " + BoldStyle.Render(st.Backend),
		"up " + Uptime(st.UptimeSeconds),
	}
	if st.Paused {
		parts = append(parts, WarningStyle.Render("session paused"))
	}
	if st.Overlay {
		parts = append(parts, InfoStyle.Render("overlay on"))
	}
	if st.XWayland != "" {
		parts = append(parts, "XWayland "+st.XWayland)
	}
	return FormatRunning(true, strings.Join(parts, SubtleStyle.Render(" · ")))
}

// Uptime renders seconds as a rough duration, e.g. "3 minutes".
func Uptime(seconds int64) string {
	if seconds < 1 {
		return "just now"
	}
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now.Add(-time.Duration(seconds)*time.Second), now, "", ""))
}

// DeviceLines lists input devices.
func DeviceLines(devices []ipc.DeviceStatus) string {
	if len(devices) == 0 {
		return MutedStyle.Render("  no input devices")
	}
	var b strings.Builder
	for i, d := range devices {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "  %s %s %s", SubtleStyle.Render(fmt.Sprintf("%2d", d.ID)), TextStyle.Render(d.Name), InfoStyle.Render("("+d.Caps+")"))
	}
	return b.String()
}

// Focus renders the focused surface handles.
func Focus(st *ipc.Status) string {
	handle := func(h uint64) string {
		if h == 0 {
			return MutedStyle.Render("none")
		}
		return fmt.Sprintf("%#x", h)
	}
	return fmt.Sprintf("  pointer %s  keyboard %s", handle(st.PointerFocus), handle(st.KeyboardFocus))
}

// OutputTable renders outputs as a table.
func OutputTable(outputs []ipc.OutputStatus) string {
	t := newTable(outputColumns)
	t.SetRows(OutputRows(outputs))
	t.SetHeight(len(outputs) + 3)
	return t.View()
}

// SurfaceTable renders surfaces as a table.
func SurfaceTable(surfaces []ipc.SurfaceStatus) string {
	t := newTable(surfaceColumns)
	t.SetRows(SurfaceRows(surfaces))
	t.SetHeight(len(surfaces) + 3)
	return t.View()
}

// RenderStatus renders a complete status snapshot for one-shot output.
func RenderStatus(st *ipc.Status) string {
	sections := []string{
		Headline(st),
		HeaderStyle.Render(fmt.Sprintf("Outputs (%d)", len(st.Outputs))),
		OutputTable(st.Outputs),
		HeaderStyle.Render(fmt.Sprintf("Surfaces (%d)", len(st.Surfaces))),
	}
	if len(st.Surfaces) == 0 {
		sections = append(sections, MutedStyle.Render("  no surfaces"))
	} else {
		sections = append(sections, SurfaceTable(st.Surfaces))
	}
	sections = append(sections,
		HeaderStyle.Render("Focus"),
		Focus(st),
		HeaderStyle.Render(fmt.Sprintf("Input devices (%d)", len(st.Devices))),
		DeviceLines(st.Devices),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
