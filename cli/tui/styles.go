package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nox-hq/streamchat/core/conversation"
)

var (
	// Role colors.
	colorSystem    = lipgloss.Color("#808080")
	colorUser      = lipgloss.Color("#88C0D0")
	colorAssistant = lipgloss.Color("#A3BE8C")

	// UI colors.
	colorTitle    = lipgloss.Color("#FFFFFF")
	colorSubtle   = lipgloss.Color("#666666")
	colorSelected = lipgloss.Color("#7D56F4")
	colorError    = lipgloss.Color("#FF6B6B")

	// Styles.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTitle)

	subtleStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSelected)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorError)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorSubtle)

	bannerStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(colorSystem)
)

// roleStyle returns the style for a message author label.
func roleStyle(role conversation.Role) lipgloss.Style {
	var color lipgloss.Color
	switch role {
	case conversation.RoleUser:
		color = colorUser
	case conversation.RoleAssistant:
		color = colorAssistant
	default:
		color = colorSystem
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

// roleBadge returns a fixed-width author label.
func roleBadge(role conversation.Role) string {
	style := roleStyle(role)
	switch role {
	case conversation.RoleUser:
		return style.Render("  you")
	case conversation.RoleAssistant:
		return style.Render("  bot")
	default:
		return style.Render("  sys")
	}
}
