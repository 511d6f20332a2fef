package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Palette
var (
	PrimaryColor = lipgloss.Color("#F4B942") // amber, the provisioning pulse
	SuccessColor = lipgloss.Color("#43BF6D")
	ErrorColor   = lipgloss.Color("#FF5555")
	WarningColor = lipgloss.Color("#FFA500")
	MutedColor   = lipgloss.Color("#626262")
	TextColor    = lipgloss.Color("#FFFFFF")
)

// Layout bounds
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true).
			PaddingLeft(2)

	CommandStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			PaddingLeft(2)

	KeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	SuccessTitleStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	WarningTitleStyle = lipgloss.NewStyle().
				Foreground(WarningColor).
				Bold(true)

	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)

	HintStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)
)

// Markers
const (
	SuccessMarker = "✓"
	FailureMarker = "✗"
	WarningMarker = "⚠"
	PendingMarker = "·"
	RunningMarker = "●"
)

// TerminalWidth returns the stdout width clamped to the layout bounds.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// IsTerminal reports whether stdout is a terminal. Animated output is
// only used when it is.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func boxStyle(color lipgloss.Color, width int) lipgloss.Style {
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Width(width-2).
		Padding(0, 1)
}
