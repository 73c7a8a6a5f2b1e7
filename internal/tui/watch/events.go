package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/crosswire/crosswire-go/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeCycleProcessed, events.TypePushDelivery:
		typeStyle = theme.StatusOK
	case events.TypeHandlerError, events.TypePullError, events.TypeAckError, events.TypePushRejected:
		typeStyle = theme.StatusFailed
	case events.TypeEngineStarted, events.TypeEngineStopped:
		typeStyle = theme.Highlight
	case events.TypePushDuplicate:
		typeStyle = theme.StatusWarning
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))
	desc := extractEventDesc(e)

	return fmt.Sprintf("%s %s %s", ts, typeName, desc)
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if eventID, ok := data["event_id"].(string); ok {
		if len(eventID) > 12 {
			eventID = eventID[:12]
		}
		parts = append(parts, fmt.Sprintf("[%s]", eventID))
	}

	if topic, ok := data["topic"].(string); ok && topic != "" {
		parts = append(parts, topic)
	}

	if sub, ok := data["subscription"].(string); ok && sub != "" {
		parts = append(parts, sub)
	}

	if path, ok := data["path"].(string); ok && path != "" {
		parts = append(parts, path)
	}

	if errText, ok := data["error"].(string); ok && errText != "" {
		if len(errText) > 40 {
			errText = errText[:40] + "..."
		}
		parts = append(parts, errText)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
