package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks dispatcher health from /healthz polling.
type HealthState struct {
	Status             string
	UptimeSeconds      int64
	Running            bool
	AwaitingCompletion bool
	CurrentJob         string
	CurrentSince       time.Time
	GateWaiters        int
	Connected          bool
	LastCheck          time.Time
}

func renderHeader(health HealthState, beat Heartbeat, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.tone(toneGood).Render("WATCHING")
	switch {
	case !health.Connected:
		statusText = theme.tone(toneBad).Render("CONNECTING")
	case !health.Running:
		statusText = theme.tone(toneBad).Render("STOPPED")
	case health.AwaitingCompletion:
		statusText = theme.tone(toneActive).Render("JOB RUNNING")
	}

	uptime := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastEventStr := "never"
	if !activity.LastEvent().IsZero() {
		ago := time.Since(activity.LastEvent()).Round(time.Second)
		lastEventStr = fmt.Sprintf("%s ago", ago)
	}

	beatStr := theme.Accent.Render(beat.Current())
	if beat.Stale(15 * time.Second) {
		beatStr = theme.Muted.Render(beat.Current())
	}
	clock := theme.Muted.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" DROPWATCH %s", beatStr)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  waiting at gate: %d",
		statusText, uptime, health.GateWaiters)

	current := theme.Muted.Render("idle")
	if health.CurrentJob != "" {
		current = shortID(health.CurrentJob)
		if !health.CurrentSince.IsZero() {
			current += fmt.Sprintf(" for %s", formatDuration(time.Since(health.CurrentSince)))
		}
	}
	activityLine := fmt.Sprintf(" Current: %s  Last event: %s %s",
		current, lastEventStr, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	)

	return theme.Panel.Width(innerWidth).Render(content)
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

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
