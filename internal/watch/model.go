package watch

import (
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/vessel/internal/events"
)

const (
	healthInterval = 5 * time.Second
	reconnectDelay = 2 * time.Second
)

// Model is the bubbletea model of the dashboard.
type Model struct {
	baseURL string
	stream  *http.Client
	client  *http.Client

	width  int
	height int

	health   Health
	board    *Board
	eventLog []events.Event
	lastID   int64

	plugins  table.Model
	log      viewport.Model
	spinner  spinner.Model
	theme    Theme
	incoming chan events.Event

	lastError string
}

// New builds a dashboard for the status API at baseURL, e.g.
// "http://127.0.0.1:9000".
func New(baseURL string) Model {
	theme := NewDefaultTheme()
	t := table.New(
		table.WithColumns(pluginColumns()),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(theme.tableStyles())

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = theme.Running

	return Model{
		baseURL:  baseURL,
		stream:   &http.Client{},
		client:   &http.Client{Timeout: 2 * time.Second},
		board:    NewBoard(),
		plugins:  t,
		spinner:  s,
		theme:    theme,
		incoming: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.stream, m.baseURL, 0, m.incoming),
		receiveNext(m.incoming),
		func() tea.Msg { return fetchHealth(m.client, m.baseURL) },
		m.spinner.Tick,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.plugins.SetWidth(m.width - 6)
		m.log.Width = m.width - 6
		m.log.Height = max(m.height/3, 3)
		m.log.SetContent(renderEventLog(m.eventLog, m.theme))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(events.Event(msg))
		return m, receiveNext(m.incoming)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Session = msg.Session
		m.health.Subscribers = msg.Subscribers
		m.health.DroppedEvents = msg.DroppedEvents
		m.lastError = ""
		return m, m.pollHealth()

	case disconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = "event stream: " + msg.err.Error()
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.stream, m.baseURL, m.lastID, m.incoming)

	case errMsg:
		m.lastError = msg.err.Error()
		return m, m.pollHealth()
	}

	var cmd tea.Cmd
	m.plugins, cmd = m.plugins.Update(msg)
	return m, cmd
}

// apply records one streamed event in every pane.
func (m *Model) apply(e events.Event) {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.health.Connected = true
	m.health.LastEvent = time.Now()
	switch e.Type {
	case events.TypeRemoteGone:
		m.health.RemoteGone = true
	case events.TypeRequestServed:
		// A relaunched presentation process is answering again.
		m.health.RemoteGone = false
	}
	if m.board.Apply(e) {
		m.plugins.SetRows(m.board.rows())
	}
	m.log.SetContent(renderEventLog(m.eventLog, m.theme))
	m.lastError = ""
}

func (m Model) pollHealth() tea.Cmd {
	return tea.Tick(healthInterval, func(time.Time) tea.Msg {
		return fetchHealth(m.client, m.baseURL)
	})
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.baseURL + "..."
	}

	header := renderHeader(m.health, m.spinner, m.theme, m.width)
	plugins := m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("PLUGINS"),
		m.plugins.View(),
	))
	stream := m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("EVENTS"),
		m.log.View(),
	))

	parts := []string{header, plugins, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ! "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] quit  [up/down] plugins  [pgup/pgdown] events"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
