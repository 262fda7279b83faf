package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/job"
)

const maxEventLog = 50

// HealthState is the latest /healthz snapshot.
type HealthState struct {
	Status          string
	UptimeSeconds   int64
	Running         int64
	Queued          int
	Pending         int64
	ConvertersCount int
	Connected       bool
	LastCheck       time.Time
}

// Model is the BubbleTea model for `convoy job watch`.
type Model struct {
	apiURL string
	client *http.Client

	width  int
	height int

	health   HealthState
	board    *jobBoard
	eventLog []events.Event
	lastID   int64

	ticker Ticker
	pulse  Pulse
	theme  Theme
	now    func() time.Time

	jobTable table.Model
	stream   viewport.Model

	hubEvents chan events.Event
	lastError string
}

// New creates a monitor for the service at apiURL.
func New(apiURL string) *Model {
	t := table.New(
		table.WithColumns(jobColumns()),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:    strings.TrimRight(apiURL, "/"),
		client:    &http.Client{},
		board:     newJobBoard(),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		now:       time.Now,
		jobTable:  t,
		stream:    viewport.New(0, 8),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) healthClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Second, Transport: m.client.Transport}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.healthClient(), m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(max(m.width-6, 20))
		m.jobTable.SetHeight(max(m.height/2-4, 3))
		m.stream.Width = max(m.width-8, 20)
		m.stream.Height = max(m.height/4, 3)
		m.refreshStream()

	case tickMsg:
		m.ticker.Tick()
		m.pulse.Decay(time.Time(msg))
		m.jobTable.SetRows(m.board.rows(m.now()))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.pulse.OnEvent(e.At)
		if m.board.apply(e) {
			m.jobTable.SetRows(m.board.rows(m.now()))
		}
		m.refreshStream()
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health = HealthState{
			Status:          msg.Status,
			UptimeSeconds:   msg.UptimeSeconds,
			Running:         msg.Running,
			Queued:          msg.Queued,
			Pending:         msg.Pending,
			ConvertersCount: msg.ConvertersCount,
			Connected:       true,
			LastCheck:       m.now(),
		}
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.healthClient(), m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// The pending receiveNextEvent keeps reading the same channel.
		return m, subscribeToEvents(m.client, m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.healthClient(), m.apiURL)
		})
	}

	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m *Model) refreshStream() {
	lines := make([]string, 0, len(m.eventLog))
	for _, e := range m.eventLog {
		lines = append(lines, formatEvent(e, m.theme))
	}
	if len(lines) == 0 {
		lines = append(lines, m.theme.Dim.Render("Waiting for events..."))
	}
	m.stream.SetContent(strings.Join(lines, "\n"))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.apiURL + "..."
	}
	innerWidth := m.width - 4

	jobs := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("JOBS"),
		m.jobTable.View(),
	)
	stream := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("EVENT STREAM"),
		m.stream.View(),
	)

	parts := []string{
		m.renderHeader(innerWidth),
		m.theme.Border.Width(innerWidth).Render(jobs),
		m.theme.Border.Width(innerWidth).Render(stream),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select job"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader(innerWidth int) string {
	statusText := m.theme.StatusOK.Render("HEALTHY")
	if !m.health.Connected {
		statusText = m.theme.StatusFailed.Render("CONNECTING")
	} else if m.health.Status != "ok" && m.health.Status != "" {
		statusText = m.theme.StatusFailed.Render("DEGRADED")
	}

	title := fmt.Sprintf(" CONVOY WATCH %s", m.theme.Highlight.Render(m.ticker.Current()))
	clock := m.theme.Dim.Render(m.now().Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	statsLine := fmt.Sprintf(" %s  up %s  Running: %d  Queued: %d  Pending: %d  Converters: %d",
		statusText, formatDuration(uptime),
		m.health.Running, m.health.Queued, m.health.Pending, m.health.ConvertersCount)

	counts := m.board.counts()
	seen := fmt.Sprintf(" Seen: %s %s %s",
		m.theme.StatusOK.Render(fmt.Sprintf("%d ok", counts[job.StatusSucceeded])),
		m.theme.StatusFailed.Render(fmt.Sprintf("%d failed", counts[job.StatusFailed])),
		m.theme.StatusSkipped.Render(fmt.Sprintf("%d skipped", counts[job.StatusSkipped])),
	)

	lastEvent := "never"
	if at := m.pulse.LastEvent(); !at.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", m.now().Sub(at).Round(time.Second))
	}
	activity := fmt.Sprintf(" Last event: %s %s", lastEvent, m.pulse.Render(m.theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, seen, activity)
	return m.theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["job_id"].(string); ok {
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, "["+id+"]")
	}

	typeStyle := theme.Dim
	switch e.Type {
	case events.TypeJobStatus:
		status, _ := data["status"].(string)
		typeStyle = theme.StatusStyle(status)
		parts = append(parts, status)
		if in, ok := data["input_path"].(string); ok && in != "" {
			parts = append(parts, in)
		}
	case events.TypeJobAttempt:
		typeStyle = theme.Highlight
		if n, ok := data["attempt"].(float64); ok {
			parts = append(parts, fmt.Sprintf("attempt %d", int(n)))
		}
	}
	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		parts = append(parts, raw)
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-12s", e.Type)), strings.Join(parts, " "))
}
