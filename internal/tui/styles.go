package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F0B90B")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A0A0A0")).
			Width(10)

	valueStyle = lipgloss.NewStyle().Bold(true)

	inputStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#F0B90B"))

	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#F0B90B")).
			Padding(0, 2)

	busyButtonStyle = buttonStyle.
			Background(lipgloss.Color("#555555")).
			Foreground(lipgloss.Color("#DDDDDD"))

	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F85149"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E7681"))
)
