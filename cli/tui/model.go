// Package tui provides an interactive terminal chat client for the
// streamchat relay using the Bubble Tea framework.
package tui

import (
	"errors"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nox-hq/streamchat/client"
)

// Controller is the chat session the UI drives. *client.Controller
// satisfies it.
type Controller interface {
	Submit(text string) error
	Delete(position int) bool
	Render() []client.Entry
}

// ChangedMsg tells the model the session state changed. Send it from the
// controller's OnChange hook via tea.Program.Send.
type ChangedMsg struct{}

type focus int

const (
	focusInput focus = iota
	focusHistory
)

const (
	inputPlaceholder   = "Type a message..."
	waitingPlaceholder = "Waiting for the reply to finish..."

	// chromeHeight is the header, input, status, and help rows.
	chromeHeight = 6
)

// Model is the root Bubble Tea model for the chat UI.
type Model struct {
	ctl      Controller
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	focus   focus
	cursor  int // position of the selected committed message
	entries []client.Entry
	status  string
	width   int
	height  int
}

// New creates a chat model over ctl.
func New(ctl Controller) *Model {
	in := textinput.New()
	in.Placeholder = inputPlaceholder
	in.CharLimit = 4000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		ctl:      ctl,
		input:    in,
		viewport: viewport.New(80, 24-chromeHeight),
		spinner:  sp,
		width:    80,
		height:   24,
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-chromeHeight)
		m.input.Width = max(10, msg.Width-4)
		m.refresh()
		return m, nil

	case ChangedMsg:
		wasStreaming := m.streaming()
		m.refresh()
		if m.streaming() && !wasStreaming {
			return m, m.spinner.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if !m.streaming() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshViewport()
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	return renderChat(m)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if matchesBinding(msg, keys.Quit) {
		return m, tea.Quit
	}
	if matchesBinding(msg, keys.Focus) {
		m.toggleFocus()
		return m, nil
	}

	if m.focus == focusHistory {
		return m.handleHistoryKey(msg)
	}
	return m.handleInputKey(msg)
}

func (m *Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if matchesBinding(msg, keys.Send) {
		m.send()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case matchesBinding(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		m.refreshViewport()

	case matchesBinding(msg, keys.Down):
		if m.cursor < m.committed()-1 {
			m.cursor++
		}
		m.refreshViewport()

	case matchesBinding(msg, keys.Delete):
		if m.ctl.Delete(m.cursor) {
			m.status = ""
		}
		m.refresh()
	}
	return m, nil
}

// send submits the input. Blank input and input typed while a reply is
// streaming are held back rather than reported.
func (m *Model) send() {
	text := m.input.Value()
	err := m.ctl.Submit(text)
	switch {
	case err == nil:
		m.input.Reset()
		m.status = ""
	case errors.Is(err, client.ErrEmptyInput), errors.Is(err, client.ErrStreamActive):
	default:
		m.status = err.Error()
	}
	m.refresh()
}

func (m *Model) toggleFocus() {
	if m.focus == focusInput {
		m.focus = focusHistory
		m.input.Blur()
		m.cursor = max(0, m.committed()-1)
	} else {
		m.focus = focusInput
		m.input.Focus()
	}
	m.refreshViewport()
}

// refresh re-reads the session state.
func (m *Model) refresh() {
	m.entries = m.ctl.Render()
	if c := m.committed(); m.cursor >= c {
		m.cursor = max(0, c-1)
	}
	if m.streaming() {
		m.input.Placeholder = waitingPlaceholder
	} else {
		m.input.Placeholder = inputPlaceholder
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(renderEntries(m.entries, m.selected(), m.spinner.View(), m.viewport.Width))
	if m.focus == focusInput {
		m.viewport.GotoBottom()
	}
}

// selected returns the highlighted position, or -1 when the input has focus.
func (m *Model) selected() int {
	if m.focus != focusHistory {
		return -1
	}
	return m.cursor
}

func (m *Model) streaming() bool {
	for _, e := range m.entries {
		if e.Streaming {
			return true
		}
	}
	return false
}

// committed counts the deletable entries.
func (m *Model) committed() int {
	n := 0
	for _, e := range m.entries {
		if e.Deletable {
			n++
		}
	}
	return n
}

// matchesBinding checks if a key message matches a key binding.
func matchesBinding(msg tea.KeyMsg, binding key.Binding) bool {
	for _, k := range binding.Keys() {
		if msg.String() == k {
			return true
		}
	}
	return false
}
