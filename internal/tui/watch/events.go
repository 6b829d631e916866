package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/dropwatch/internal/events"
)

const eventLines = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Muted.Render("  Waiting for events..."),
		)
		return theme.Panel.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventLines {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Panel.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Muted.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.JobCompleted:
		typeStyle = theme.tone(toneGood)
	case events.JobFailed, events.JobTimedOut, events.TriggerRejected:
		typeStyle = theme.tone(toneBad)
	case events.JobLaunched:
		typeStyle = theme.tone(toneActive)
	case events.JobAbandoned:
		typeStyle = theme.tone(toneGone)
	case events.DispatcherStarted, events.DispatcherStopped:
		typeStyle = theme.Accent
	default:
		typeStyle = theme.Muted
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

func describeEvent(e events.Event) string {
	var p events.JobPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return truncate(string(e.Data), 60)
	}

	var parts []string
	if p.JobID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(p.JobID)))
	}
	if p.JobName != "" {
		parts = append(parts, p.JobName)
	}
	if p.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", p.PID))
	}
	if p.Reason != "" {
		parts = append(parts, p.Reason)
	}
	if p.Error != "" {
		parts = append(parts, truncate(p.Error, 40))
	}

	if len(parts) == 0 {
		return truncate(string(e.Data), 60)
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
