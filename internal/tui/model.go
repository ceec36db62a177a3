package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/jakegut/h2demux/internal/introspect"
)

// connectedMsg/streamsMsg/errMsg/reconnectMsg drive the bubbletea update loop
// the way devagent's model.go threads container-state changes through
// tea.Msg values rather than touching Model fields from other goroutines.
type connectedMsg struct{ client *introspect.Client }
type streamsMsg struct{ frame introspect.Frame }
type errMsg struct{ err error }
type reconnectMsg struct{}

// Model is the `h2muxd top` dashboard: a live table of the registry fed by
// an internal/introspect.Client subscription.
type Model struct {
	addr    string
	styles  *Styles
	spinner spinner.Model
	table   table.Model

	client    *introspect.Client
	connected bool
	lastErr   error
	width     int
	height    int
}

// NewModel builds the dashboard model pointed at a daemon's introspection
// websocket address (e.g. "ws://127.0.0.1:8090/snapshots").
func NewModel(addr, theme string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	cols := []table.Column{
		{Title: "Stream", Width: 8},
		{Title: "State", Width: 10},
		{Title: "Window", Width: 14},
		{Title: "Batch", Width: 7},
	}
	tbl := table.New(table.WithColumns(cols), table.WithFocused(false))

	return Model{
		addr:    addr,
		styles:  NewStyles(theme),
		spinner: sp,
		table:   tbl,
	}
}

// Init kicks off the connect attempt and the spinner animation.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, connectCmd(m.addr))
}

func connectCmd(addr string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := introspect.Dial(ctx, addr)
		if err != nil {
			return errMsg{err}
		}
		return connectedMsg{client}
	}
}

func readCmd(client *introspect.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		frame, err := client.Next(ctx)
		if err != nil {
			return errMsg{err}
		}
		return streamsMsg{frame}
	}
}

func reconnectAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return reconnectMsg{} })
}

// Update handles bubbletea messages: keypresses, spinner ticks, and the
// connect/read/error cycle against the daemon's snapshot feed.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.client != nil {
				_ = m.client.Close()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case connectedMsg:
		m.client = msg.client
		m.connected = true
		m.lastErr = nil
		return m, readCmd(m.client)

	case streamsMsg:
		m.applyFrame(msg.frame)
		return m, readCmd(m.client)

	case reconnectMsg:
		return m, connectCmd(m.addr)

	case errMsg:
		m.connected = false
		m.lastErr = msg.err
		m.client = nil
		return m, reconnectAfter(2 * time.Second)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applyFrame(frame introspect.Frame) {
	rows := make([]table.Row, 0, len(frame.Streams))
	for _, s := range frame.Streams {
		batch := ""
		if s.InReadCompleteBatch {
			batch = "yes"
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", s.StreamID),
			s.State,
			humanize.Bytes(uint64(clampNonNegative(s.Window))),
			batch,
		})
	}
	m.table.SetRows(rows)
}

func clampNonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// View renders the dashboard: title, connection status, and the stream
// table, boxed the way devagent's view.go frames its panels.
func (m Model) View() string {
	title := m.styles.TitleStyle().Render("h2muxd — live stream registry")

	status := m.styles.SubtitleStyle().Render(fmt.Sprintf("connected to %s", m.addr))
	if !m.connected {
		msg := m.spinner.View() + " connecting to " + m.addr
		if m.lastErr != nil {
			msg = fmt.Sprintf("%s (retrying: %v)", msg, m.lastErr)
		}
		status = m.styles.ErrorStyle().Render(msg)
	}

	body := m.styles.BoxStyle().Render(m.table.View())
	help := m.styles.HelpStyle().Render("q: quit")

	return fmt.Sprintf("%s\n%s\n\n%s\n%s\n", title, status, body, help)
}
