package tui

import (
	"fmt"
	"strings"
	"time"

	"qrypub/internal/client/events"
	"qrypub/internal/client/usage"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Version can be set at build time
var Version = "dev"

// PublishEntry represents a recent outbound envelope for display
type PublishEntry struct {
	Kind string
	Err  error
	Time time.Time
}

// Model is the main Bubble Tea model
type Model struct {
	// "connecting", "online", "reconnecting", "offline", "unregistered"
	status string

	hubAddr   string
	publicKey string

	collector *usage.Collector
	eventBus  *events.Bus
	eventSub  <-chan events.Event

	width     int
	height    int
	startTime time.Time

	publishes    []PublishEntry
	maxPublishes int

	lastError string
}

// NewModel creates a new TUI model
func NewModel(eventBus *events.Bus, collector *usage.Collector) Model {
	var eventSub <-chan events.Event
	if eventBus != nil {
		eventSub = eventBus.Subscribe()
	}

	return Model{
		status:       "connecting",
		collector:    collector,
		eventBus:     eventBus,
		eventSub:     eventSub,
		startTime:    time.Now(),
		publishes:    make([]PublishEntry, 0),
		maxPublishes: 10,
	}
}

// WithIdentity presets the hub address and key shown before the first connect.
func (m Model) WithIdentity(hubAddr, publicKey string) Model {
	m.hubAddr = hubAddr
	m.publicKey = publicKey
	return m
}

type tickMsg time.Time
type eventMsg events.Event

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		if sub == nil {
			return nil
		}
		event, ok := <-sub
		if !ok {
			return nil
		}
		return eventMsg(event)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd()}
	if m.eventSub != nil {
		cmds = append(cmds, waitForEvent(m.eventSub))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// usage counters are read on every render
		return m, tickCmd()

	case eventMsg:
		m = m.handleEvent(events.Event(msg))
		return m, waitForEvent(m.eventSub)
	}

	return m, nil
}

func (m Model) handleEvent(event events.Event) Model {
	switch event.Type {
	case events.EventConnecting:
		m.status = "connecting"

	case events.EventConnected:
		m.status = "online"
		m.lastError = ""
		if data, ok := event.Data.(events.ConnectedData); ok {
			m.hubAddr = data.HubAddr
			if data.PublicKey != "" {
				m.publicKey = data.PublicKey
			}
		}

	case events.EventDisconnected:
		m.status = "offline"

	case events.EventReconnecting:
		m.status = "reconnecting"

	case events.EventNotRegistered:
		m.status = "unregistered"
		m.lastError = "instance key is not registered with the hub"

	case events.EventPublished:
		if data, ok := event.Data.(events.PublishedData); ok {
			ts := event.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			entry := PublishEntry{Kind: data.Kind, Err: data.Err, Time: ts}
			m.publishes = append([]PublishEntry{entry}, m.publishes...)
			if len(m.publishes) > m.maxPublishes {
				m.publishes = m.publishes[:m.maxPublishes]
			}
		}

	case events.EventError:
		if data, ok := event.Data.(events.ErrorData); ok {
			m.lastError = fmt.Sprintf("%s: %v", data.Context, data.Error)
		}
	}

	return m
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	b.WriteString(m.renderUsage())
	b.WriteString("\n")

	if len(m.publishes) > 0 {
		b.WriteString(m.renderPublishes())
		b.WriteString("\n")
	}

	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Last Error") + errorStyle.Render(m.lastError))
	}

	return b.String()
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("qrypub")
	hint := hintStyle.Render("(Ctrl+C to quit)")

	spacing := strings.Repeat(" ", 40)
	if m.width > 0 {
		spaces := m.width - lipgloss.Width(title) - lipgloss.Width(hint)
		spacing = ""
		if spaces > 0 {
			spacing = strings.Repeat(" ", spaces)
		}
	}

	return title + spacing + hint
}

func (m Model) renderStatus() string {
	var lines []string

	lines = append(lines, m.renderField("Session Status", StatusText(m.status)))
	lines = append(lines, m.renderField("Version", Version))

	hub := m.hubAddr
	if hub == "" {
		hub = "-"
	}
	lines = append(lines, m.renderField("Hub", urlStyle.Render(hub)))

	key := m.publicKey
	if key == "" {
		key = "anonymous"
	}
	lines = append(lines, m.renderField("Public Key", valueStyle.Render(truncate(key, 60))))
	lines = append(lines, m.renderField("Uptime", time.Since(m.startTime).Truncate(time.Second).String()))

	return strings.Join(lines, "\n")
}

func (m Model) renderField(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func (m Model) renderUsage() string {
	var lines []string
	lines = append(lines, "")

	var snap usage.Snapshot
	if m.collector != nil {
		snap = m.collector.Snapshot()
	}

	headers := []string{"win", "ttl", "eps", "since"}
	headerRow := labelStyle.Render("Requests")
	for _, h := range headers {
		headerRow += statsHeaderStyle.Render(h)
	}
	lines = append(lines, headerRow)

	since := "-"
	if !snap.From.IsZero() {
		since = formatAge(time.Since(snap.From))
	}
	valueRow := labelStyle.Render("")
	valueRow += statsValueStyle.Render(fmt.Sprintf("%d", snap.Requests))
	valueRow += statsValueStyle.Render(fmt.Sprintf("%d", snap.Total))
	valueRow += statsValueStyle.Render(fmt.Sprintf("%d", len(snap.Table)))
	valueRow += statsValueStyle.Render(since)
	lines = append(lines, valueRow)

	return strings.Join(lines, "\n")
}

func (m Model) renderPublishes() string {
	var lines []string
	lines = append(lines, "")
	lines = append(lines, labelStyle.Render("Published"))

	for _, p := range m.publishes {
		ts := timeStyle.Render(p.Time.Format("15:04:05"))
		line := fmt.Sprintf("%s %s %s", ts, KindText(p.Kind), ResultText(p.Err))
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Run starts the TUI application and blocks until the user quits.
func Run(model Model) error {
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
