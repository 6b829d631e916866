// Package watch implements the `dropwatch system watch` terminal monitor.
// It follows a running dispatcher through its /events stream and polls
// /healthz for the gate state.
package watch

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/dropwatch/internal/joblog"
)

// tone groups job statuses that share a colour.
type tone int

const (
	toneIdle tone = iota
	toneActive
	toneGood
	toneBad
	toneGone
)

var statusTone = map[joblog.Status]tone{
	joblog.StatusReceived:  toneIdle,
	joblog.StatusWaiting:   toneIdle,
	joblog.StatusRunning:   toneActive,
	joblog.StatusSucceeded: toneGood,
	joblog.StatusFailed:    toneBad,
	joblog.StatusRejected:  toneBad,
	joblog.StatusTimedOut:  toneBad,
	joblog.StatusAbandoned: toneGone,
}

var statusGlyph = map[joblog.Status]string{
	joblog.StatusReceived:  "○",
	joblog.StatusWaiting:   "○",
	joblog.StatusRunning:   "◉",
	joblog.StatusSucceeded: "●",
	joblog.StatusFailed:    "∅",
	joblog.StatusRejected:  "∅",
	joblog.StatusTimedOut:  "◑",
	joblog.StatusAbandoned: "◔",
}

// Theme holds the monitor's styles.
type Theme struct {
	Panel  lipgloss.Style
	Title  lipgloss.Style
	Muted  lipgloss.Style
	Accent lipgloss.Style

	tones map[tone]lipgloss.Style
}

func fg(hex string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
}

func NewDefaultTheme() Theme {
	return Theme{
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5F87AF")),
		Title:  fg("#EEEEEE").Bold(true).Padding(0, 1),
		Muted:  fg("#808080"),
		Accent: fg("#D7AF5F"),
		tones: map[tone]lipgloss.Style{
			toneIdle:   fg("#9E9E9E"),
			toneActive: fg("#FFD75F"),
			toneGood:   fg("#5FD75F"),
			toneBad:    fg("#FF5F5F"),
			toneGone:   fg("#6C6C6C"),
		},
	}
}

func (t Theme) tone(k tone) lipgloss.Style {
	if s, ok := t.tones[k]; ok {
		return s
	}
	return t.Muted
}

// Status returns the style used for a job status.
func (t Theme) Status(s joblog.Status) lipgloss.Style {
	return t.tone(statusTone[s])
}

// Glyph renders the one-cell marker for a job status.
func (t Theme) Glyph(s joblog.Status) string {
	g, ok := statusGlyph[s]
	if !ok {
		return "○"
	}
	return t.Status(s).Render(g)
}
