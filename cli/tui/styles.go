// Package tui provides the Bubble Tea install progress view.
//
// TUI rules:
//   - TUI is opt-in only (--tui flag)
//   - TUI is supported for the install command only
//   - TUI shows the same progress events and report as non-TUI rendering
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// SuccessStyle for success states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for warning states.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for error states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// TallyStyle for the final installed/total line.
	TallyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor).
			MarginTop(1)

	// SpinnerStyle for the progress spinner.
	SpinnerStyle = lipgloss.NewStyle().
			Foreground(primaryColor)
)

// StatusStyle returns a style for a session status string.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "success", "nothing_to_do":
		return SuccessStyle
	case "partial", "declined", "installing", "waiting":
		return WarningStyle
	case "failed", "timed_out":
		return ErrorStyle
	default:
		return ValueStyle
	}
}
