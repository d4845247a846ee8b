// Package ui renders compositor state for the anvil CLI.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
	ColorMuted  = lipgloss.Color("238") // Dark gray
)

var (
	TextStyle   = lipgloss.NewStyle().Foreground(ColorText)
	SubtleStyle = lipgloss.NewStyle().Foreground(ColorSubtle)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginTop(1)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorMuted).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorInfo)

	SpinnerStyle = lipgloss.NewStyle().Foreground(ColorSecondary)

	ControlKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	ControlDescStyle = lipgloss.NewStyle().Foreground(ColorSubtle)
)

// Indicators
var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "!"
	IconRunning = "●"
	IconStopped = "○"
)

// SpinnerDot is the spinner used while waiting for the compositor.
var SpinnerDot = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// FormatControl renders a key hint.
func FormatControl(key, desc string) string {
	return ControlKeyStyle.Render(key) + " " + ControlDescStyle.Render(desc)
}

// FormatRunning renders the running indicator followed by status.
func FormatRunning(running bool, status string) string {
	if running {
		return SuccessStyle.Render(IconRunning) + " " + status
	}
	return ErrorStyle.Render(IconStopped) + " " + status
}

// FormatResult renders a one-line success or failure message.
func FormatResult(ok bool, message string) string {
	if ok {
		return SuccessStyle.Render(IconSuccess) + " " + message
	}
	return ErrorStyle.Render(IconError) + " " + message
}

// FormatState colours an output scheduling state.
func FormatState(state string) string {
	switch state {
	case "idle":
		return SubtleStyle.Render(state)
	case "requested", "rendering", "presenting":
		return SuccessStyle.Render(state)
	case "suspended":
		return WarningStyle.Render(state)
	default:
		return TextStyle.Render(state)
	}
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int) string {
	if width <= 0 {
		width = 50
	}
	return SubtleStyle.Render(strings.Repeat("─", width))
}
