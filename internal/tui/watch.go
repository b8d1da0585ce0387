// Package tui implements `chronicle watch`, a terminal monitor that polls the
// HTTP API for target status and streams sweep events.
package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// --- Types ---

type targetRow struct {
	Name             string `json:"name"`
	Dir              string `json:"dir"`
	RetentionEnabled bool   `json:"retention_enabled"`
	LastSweep        *struct {
		StartedAt time.Time `json:"started_at"`
		Deleted   int       `json:"deleted"`
		Failed    int       `json:"failed"`
		Disabled  bool      `json:"disabled"`
	} `json:"last_sweep"`
}

type statusMsg struct {
	Service       string      `json:"service"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Targets       []targetRow `json:"targets"`
}

type sseEvent struct {
	Type string
	Data string
}

type eventMsg sseEvent
type tickMsg time.Time
type errMsg error

// Model is the bubbletea model for the watch screen.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	status  statusMsg
	feed    []string
	lastErr error

	eventCh chan sseEvent

	targetTable table.Model
	viewport    viewport.Model
}

// NewWatch creates a watch model pointed at a chronicle API.
func NewWatch(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Target", Width: 16},
			{Title: "Dir", Width: 32},
			{Title: "Retention", Width: 10},
			{Title: "Last Sweep", Width: 20},
			{Title: "Del/Fail", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
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
		apiURL:      strings.TrimRight(apiURL, "/"),
		apiKey:      apiKey,
		eventCh:     make(chan sseEvent, 100),
		targetTable: t,
		viewport:    viewport.New(80, 10),
	}
}

func (m *Model) Init() tea.Cmd {
	go m.streamEvents()
	return tea.Batch(
		m.pollStatus(),
		m.waitForEvent(),
		m.tick(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
		m.targetTable.SetWidth(m.width - 6)
		m.viewport.Width = m.width - 6
		m.viewport.Height = m.height/3 + 2

	case statusMsg:
		m.status = msg
		m.lastErr = nil
		m.refreshTable()

	case eventMsg:
		line := fmt.Sprintf("%s  %s  %s", time.Now().Format("15:04:05"), msg.Type, msg.Data)
		m.feed = append(m.feed, line)
		if len(m.feed) > 200 {
			m.feed = m.feed[len(m.feed)-200:]
		}
		m.viewport.SetContent(strings.Join(m.feed, "\n"))
		m.viewport.GotoBottom()
		return m, m.waitForEvent()

	case tickMsg:
		return m, tea.Batch(m.pollStatus(), m.tick())

	case errMsg:
		m.lastErr = msg
	}

	m.targetTable, cmd = m.targetTable.Update(msg)
	return m, cmd
}

func (m *Model) refreshTable() {
	rows := make([]table.Row, 0, len(m.status.Targets))
	for _, t := range m.status.Targets {
		retention := "off"
		if t.RetentionEnabled {
			retention = "on"
		}
		last, counts := "never", "-"
		if t.LastSweep != nil {
			last = t.LastSweep.StartedAt.Local().Format("2006-01-02 15:04")
			counts = fmt.Sprintf("%d/%d", t.LastSweep.Deleted, t.LastSweep.Failed)
		}
		rows = append(rows, table.Row{t.Name, t.Dir, retention, last, counts})
	}
	m.targetTable.SetRows(rows)
}

// --- View ---

func (m *Model) View() string {
	title := titleStyle.Render(fmt.Sprintf("chronicle watch — %s (up %ds)", m.apiURL, m.status.UptimeSeconds))

	health := okStyle.Render("connected")
	if m.lastErr != nil {
		health = errStyle.Render("error: " + m.lastErr.Error())
	}

	feed := m.viewport.View()
	if len(m.feed) == 0 {
		feed = dimStyle.Render("waiting for events...")
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		title,
		health,
		borderStyle.Render(m.targetTable.View()),
		warnStyle.Render("sweep activity"),
		borderStyle.Render(feed),
		dimStyle.Render("q: quit"),
	)
	return docStyle.Render(body)
}

// --- Commands ---

func (m *Model) tick() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) pollStatus() tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest("GET", m.apiURL+"/status", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+m.apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("status endpoint returned %s", resp.Status))
		}

		var status statusMsg
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return errMsg(err)
		}
		return status
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.eventCh)
	}
}

// streamEvents reads the /events SSE stream and forwards events to the model.
// It reconnects with a small backoff until the program exits.
func (m *Model) streamEvents() {
	for {
		req, err := http.NewRequest("GET", m.apiURL+"/events", nil)
		if err != nil {
			return
		}
		req.Header.Set("Authorization", "Bearer "+m.apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(2 * time.Second)
			continue
		}

		scanner := bufio.NewScanner(resp.Body)
		var current sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.Type = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && current.Type != "":
				m.eventCh <- current
				current = sseEvent{}
			}
		}
		resp.Body.Close()
		time.Sleep(2 * time.Second)
	}
}
