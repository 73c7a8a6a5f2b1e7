package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crosswire/crosswire-go/internal/events"
)

// Subscription identifies one registered topic/subscription pair shown in
// the subscriptions table.
type Subscription struct {
	Topic        string
	Subscription string
}

type subscriptionStats struct {
	processed  int64
	errors     int64
	lastActive time.Time
}

// Model is the main BubbleTea model for the watch TUI. It subscribes to the
// in-process events hub, so it runs alongside the engine rather than against
// a remote API.
type Model struct {
	hub    *events.Hub
	cancel func()

	width  int
	height int

	subscriptions []Subscription
	stats         map[string]*subscriptionStats
	eventLog      []events.Event
	counts        map[string]int64
	startedAt     time.Time

	ticker  Ticker
	spinner Spinner

	theme    Theme
	subTable table.Model

	hubEvents <-chan events.Event
}

type eventMsg events.Event
type tickMsg time.Time

// New creates a watch model bound to hub. The subscriptions slice drives the
// table rows; event data keyed by topic/subscription fills in the counters.
func New(hub *events.Hub, subscriptions []Subscription) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Topic", Width: 24},
			{Title: "Subscription", Width: 24},
			{Title: "Processed", Width: 10},
			{Title: "Errors", Width: 8},
			{Title: "Last Active", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(len(subscriptions)+1),
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

	ch, cancel := hub.Subscribe()

	return &Model{
		hub:           hub,
		cancel:        cancel,
		subscriptions: subscriptions,
		stats:         make(map[string]*subscriptionStats),
		eventLog:      make([]events.Event, 0),
		counts:        make(map[string]int64),
		startedAt:     time.Now(),
		ticker:        NewTicker(),
		spinner:       NewSpinner(),
		theme:         NewDefaultTheme(),
		subTable:      t,
		hubEvents:     ch,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		receiveNextEvent(m.hubEvents),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.subTable.SetWidth(m.width - 6)

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, receiveNextEvent(m.hubEvents)
	}

	m.subTable, cmd = m.subTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	// Newest first, capped.
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}

	m.spinner.OnEvent()
	m.counts[e.Type]++

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	topic, _ := data["topic"].(string)
	subscription, _ := data["subscription"].(string)
	if topic == "" || subscription == "" {
		return
	}

	key := topic + "/" + subscription
	st, ok := m.stats[key]
	if !ok {
		st = &subscriptionStats{}
		m.stats[key] = st
	}
	st.lastActive = time.Now()

	switch e.Type {
	case events.TypeCycleProcessed:
		st.processed++
	case events.TypeHandlerError, events.TypePullError, events.TypeAckError:
		st.errors++
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		key := sub.Topic + "/" + sub.Subscription
		st := m.stats[key]

		statusSym := m.theme.StatusIdle.Render("○")
		processed, errors := int64(0), int64(0)
		lastActive := "-"
		if st != nil {
			processed, errors = st.processed, st.errors
			lastActive = st.lastActive.Format("15:04:05")
			switch {
			case errors > 0 && time.Since(st.lastActive) < 10*time.Second:
				statusSym = m.theme.StatusWarning.Render("◉")
			case time.Since(st.lastActive) < 10*time.Second:
				statusSym = m.theme.StatusOK.Render("●")
			default:
				statusSym = m.theme.StatusIdle.Render("●")
			}
		}

		rows = append(rows, table.Row{
			statusSym,
			sub.Topic,
			sub.Subscription,
			fmt.Sprintf("%d", processed),
			fmt.Sprintf("%d", errors),
			lastActive,
		})
	}
	m.subTable.SetRows(rows)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := m.renderHeader()

	subsView := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("SUBSCRIPTIONS"),
			m.subTable.View(),
		),
	)

	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate Subscriptions")

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, subsView, eventStream, help),
	)
}

func (m *Model) renderHeader() string {
	innerWidth := m.width - 4

	tickerStr := m.theme.Highlight.Render(m.ticker.Current())
	clock := m.theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" CROSSWIRE WATCH %s", tickerStr)

	titleWidth := lipgloss.Width(titleText)
	clockWidth := lipgloss.Width(clock)
	pad := innerWidth - titleWidth - clockWidth - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	lastEventStr := "never"
	if !m.spinner.LastEvent().IsZero() {
		ago := time.Since(m.spinner.LastEvent()).Round(time.Second)
		lastEventStr = fmt.Sprintf("%s ago", ago)
	}

	errorCount := m.counts[events.TypePullError] +
		m.counts[events.TypeHandlerError] +
		m.counts[events.TypeAckError] +
		m.counts[events.TypePushRejected]

	statsLine := fmt.Sprintf(" ⏱ %s  Processed: %d  Pushed: %d  Errors: %d",
		formatDuration(time.Since(m.startedAt)),
		m.counts[events.TypeCycleProcessed],
		m.counts[events.TypePushDelivery],
		errorCount,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, m.spinner.Render(m.theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return m.theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return tea.Quit()
		}
		return eventMsg(ev)
	}
}
