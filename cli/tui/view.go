package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nox-hq/streamchat/client"
)

func renderChat(m *Model) string {
	var b strings.Builder

	title := titleStyle.Render("streamchat")
	if m.streaming() {
		title += "  " + m.spinner.View() + subtleStyle.Render(client.TypingLabel)
	}
	b.WriteString(headerStyle.Width(m.width).Render(title))
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n\n")

	b.WriteString(m.input.View())
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString(statusStyle.Render("error: " + m.status))
	}
	b.WriteString("\n")

	b.WriteString(renderHelp(m.focus))
	return b.String()
}

// renderEntries lays out the conversation. selected is the highlighted
// delete position, or -1.
func renderEntries(entries []client.Entry, selected int, spin string, width int) string {
	wrap := lipgloss.NewStyle().Width(max(20, width-8))

	var b strings.Builder
	for _, e := range entries {
		switch {
		case e.Label != "" && !e.Streaming:
			// Banner with no system prompt.
			b.WriteString(bannerStyle.Render(e.Label))

		case !e.Deletable && !e.Streaming:
			b.WriteString(bannerStyle.Render(e.Content))

		case e.Streaming:
			fmt.Fprintf(&b, "%s %s\n", roleBadge(e.Role), subtleStyle.Render(spin+e.Label))
			b.WriteString("      ")
			b.WriteString(wrap.Render(e.Content))

		default:
			marker := "  "
			badge := roleBadge(e.Role)
			if e.Position == selected {
				marker = selectedStyle.Render("> ")
			}
			fmt.Fprintf(&b, "%s%s ", marker, badge)
			b.WriteString(wrap.Render(e.Content))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderHelp(f focus) string {
	bindings := []struct {
		key, desc string
	}{
		{keys.Send.Help().Key, keys.Send.Help().Desc},
		{keys.Focus.Help().Key, keys.Focus.Help().Desc},
		{keys.Quit.Help().Key, keys.Quit.Help().Desc},
	}
	if f == focusHistory {
		bindings = []struct {
			key, desc string
		}{
			{keys.Up.Help().Key, keys.Up.Help().Desc},
			{keys.Down.Help().Key, keys.Down.Help().Desc},
			{keys.Delete.Help().Key, keys.Delete.Help().Desc},
			{keys.Focus.Help().Key, keys.Focus.Help().Desc},
			{keys.Quit.Help().Key, keys.Quit.Help().Desc},
		}
	}

	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		parts = append(parts, kb.key+" "+kb.desc)
	}
	return helpStyle.Render(strings.Join(parts, "  "))
}
