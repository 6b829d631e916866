package watch

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/dropwatch/internal/events"
)

const (
	eventLogSize   = 50
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
	// chrome is the vertical space taken by everything except the job table.
	chrome = 24
)

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Quit key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Up, k.Down, k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

// Model is the BubbleTea model for the monitor.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health HealthState
	jobs   map[string]*JobState
	// eventLog is newest first.
	eventLog []events.Event

	heartbeat Heartbeat
	activity  Activity

	theme    Theme
	keys     keyMap
	help     help.Model
	jobTable table.Model

	hubEvents chan events.Event

	lastError string
}

// New creates a monitor for the dispatcher API at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		jobs:      make(map[string]*JobState),
		hubEvents: make(chan events.Event, 100),
		heartbeat: NewHeartbeat(),
		theme:     NewDefaultTheme(),
		keys:      defaultKeys(),
		help:      help.New(),
		jobTable:  newJobTable(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// pollHealthAfter schedules the next /healthz request.
func (m Model) pollHealthAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return fetchHealth(m.apiURL, m.apiKey) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.jobTable.SetWidth(m.width - 6)
		if h := m.height - chrome; h > 5 {
			m.jobTable.SetHeight(h)
		}
		return m, nil

	case tickMsg:
		m.activity.Decay()
		m.refreshJobs()
		return m, tick()

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health = msg.state()
		m.heartbeat.Beat()
		m.lastError = ""
		return m, m.pollHealthAfter(healthInterval)

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel.
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg(msg) })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, msg.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, m.pollHealthAfter(healthInterval)
	}

	var cmd tea.Cmd
	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m *Model) refreshJobs() {
	m.jobTable.SetRows(jobRows(m.jobs, m.theme, time.Now()))
}

func (m *Model) applyEvent(e events.Event) {
	m.eventLog = append(m.eventLog, events.Event{})
	copy(m.eventLog[1:], m.eventLog)
	m.eventLog[0] = e
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}

	m.activity.OnEvent()
	updateJobState(m.jobs, e)
	m.refreshJobs()

	m.health.Connected = true
	m.lastError = ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to dropwatch..."
	}

	parts := []string{
		renderHeader(m.health, m.heartbeat, m.activity, m.theme, m.width),
		renderJobs(m.jobTable, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.tone(toneBad).Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, " "+m.help.View(m.keys))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
