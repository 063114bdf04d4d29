// Package tui is a terminal viewer for a framecast hub. It connects as a
// regular recipient and draws the three display channels above a scrolling
// log of chat messages, sounds and console commands.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/MrWong99/framecast/internal/viewer"
	"github.com/MrWong99/framecast/pkg/anim"
)

// maxLogLines bounds the log kept in memory.
const maxLogLines = 500

// Conn is the viewer connection the model reads from. [*viewer.Client]
// satisfies it.
type Conn interface {
	Next(ctx context.Context) (viewer.Event, error)
	Send(ctx context.Context, ev viewer.ClientEvent) error
}

var _ Conn = (*viewer.Client)(nil)

type connState int

const (
	stateConnecting connState = iota
	stateWatching
	stateSwitching
	stateGone
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Align(lipgloss.Center)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA")).
			Align(lipgloss.Center)

	actionBarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			Align(lipgloss.Center)

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)
)

type eventMsg struct{ ev viewer.Event }

type connErrMsg struct{ err error }

type sentMsg struct{ err error }

// Model is the bubbletea model for one viewer connection.
type Model struct {
	conn  Conn
	ctx   context.Context
	state connState

	id, name, world string
	display         map[anim.Channel]string
	log             []string
	reason          string

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
	now      func() time.Time
}

// NewModel returns a model reading from conn until ctx is done.
func NewModel(ctx context.Context, conn Conn) Model {
	ti := textinput.New()
	ti.Placeholder = "world name"
	ti.CharLimit = 64
	ti.Width = 30

	return Model{
		conn:     conn,
		ctx:      ctx,
		display:  make(map[anim.Channel]string, 3),
		viewport: viewport.New(80, 10),
		input:    ti,
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return m.next()
}

// next reads one event off the connection.
func (m Model) next() tea.Cmd {
	return func() tea.Msg {
		ev, err := m.conn.Next(m.ctx)
		if err != nil {
			return connErrMsg{err}
		}
		return eventMsg{ev}
	}
}

func (m Model) send(ev viewer.ClientEvent) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		return sentMsg{m.conn.Send(ctx, ev)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		// Title, subtitle, action bar with border, status and help.
		m.viewport.Height = max(msg.Height-8, 1)
		m.refreshLog()
		return m, nil

	case eventMsg:
		m.apply(msg.ev)
		if m.state == stateGone {
			return m, nil
		}
		return m, m.next()

	case connErrMsg:
		if m.state != stateGone {
			m.state = stateGone
			m.reason = msg.err.Error()
		}
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.appendLog(statusStyle.Render("send failed: " + msg.err.Error()))
		}
		return m, nil
	}

	if m.state == stateSwitching {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.state == stateSwitching {
		switch msg.Type {
		case tea.KeyEsc:
			m.state = stateWatching
			m.input.Blur()
			m.input.Reset()
			return m, nil
		case tea.KeyEnter:
			world := strings.TrimSpace(m.input.Value())
			m.state = stateWatching
			m.input.Blur()
			m.input.Reset()
			if world == "" {
				return m, nil
			}
			m.world = world
			return m, m.send(viewer.ClientEvent{Type: viewer.ClientWorld, World: world})
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "w":
		if m.state == stateWatching {
			m.state = stateSwitching
			return m, m.input.Focus()
		}
		return m, nil
	case "c":
		m.display = make(map[anim.Channel]string, 3)
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// apply folds one server event into the model.
func (m *Model) apply(ev viewer.Event) {
	switch ev.Type {
	case viewer.EventWelcome:
		m.state = stateWatching
		m.id, m.name, m.world = ev.ID, ev.Name, ev.World
		m.appendLog(statusStyle.Render(fmt.Sprintf("connected as %s in %s", m.name, m.world)))
	case viewer.EventDisplay:
		if !ev.Channel.IsValid() {
			return
		}
		m.display[ev.Channel] = ev.Text
	case viewer.EventMessage:
		m.appendLog(ev.Text)
	case viewer.EventSound:
		if ev.Sound == nil {
			return
		}
		s := ev.Sound.WithDefaults()
		m.appendLog(helpStyle.Render(fmt.Sprintf("♪ %s:%s (%s, pitch %.2f)", s.Namespace, s.Name, s.Source, s.Pitch)))
	case viewer.EventCommand:
		m.appendLog(helpStyle.Render("/" + ev.Command))
	case viewer.EventKick:
		m.state = stateGone
		m.reason = "kicked"
		if ev.Reason != "" {
			m.reason += ": " + ev.Reason
		}
		m.appendLog(statusStyle.Render(m.reason))
	}
}

func (m *Model) appendLog(line string) {
	stamp := m.now().Format("15:04:05")
	m.log = append(m.log, helpStyle.Render(stamp)+" "+line)
	if n := len(m.log) - maxLogLines; n > 0 {
		m.log = m.log[n:]
	}
	m.refreshLog()
}

func (m *Model) refreshLog() {
	atBottom := m.viewport.AtBottom()
	w := m.viewport.Width
	lines := make([]string, len(m.log))
	for i, l := range m.log {
		lines[i] = logStyle.Render(ansi.Truncate(l, w, "…"))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// Display returns the text currently shown on a channel.
func (m Model) Display(ch anim.Channel) string {
	return m.display[ch]
}

// Log returns the log lines, oldest first.
func (m Model) Log() []string {
	return m.log
}

// World returns the world the viewer is in.
func (m Model) World() string {
	return m.world
}

// Gone reports whether the connection has ended and why.
func (m Model) Gone() (bool, string) {
	return m.state == stateGone, m.reason
}

func (m Model) View() string {
	w := m.width
	if w <= 0 {
		w = 80
	}
	line := func(style lipgloss.Style, ch anim.Channel) string {
		return style.Width(w).Render(ansi.Truncate(m.display[ch], w, "…"))
	}

	var status string
	switch m.state {
	case stateConnecting:
		status = "connecting..."
	case stateGone:
		status = "disconnected: " + m.reason + " (q to quit)"
	default:
		status = fmt.Sprintf("%s (%s) in %s", m.name, m.id, m.world)
	}

	help := "w: switch world  c: clear  ↑/↓: scroll  q: quit"
	if m.state == stateSwitching {
		help = "switch to " + m.input.View() + "  enter: confirm  esc: cancel"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		line(titleStyle, anim.ChannelTitle),
		line(subtitleStyle, anim.ChannelSubtitle),
		"",
		m.viewport.View(),
		line(actionBarStyle, anim.ChannelActionBar),
		statusStyle.Render(ansi.Truncate(status, w, "…")),
		helpStyle.Render(help),
	)
}

// Run drives the terminal until the user quits.
func Run(ctx context.Context, conn Conn) error {
	p := tea.NewProgram(NewModel(ctx, conn), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
