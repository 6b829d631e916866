package watch

import (
	"strings"
	"time"
)

// Heartbeat flips on every successful health poll, so a frozen frame means
// the dispatcher stopped answering.
type Heartbeat struct {
	frames []string
	index  int
	last   time.Time
}

func NewHeartbeat() Heartbeat {
	return Heartbeat{frames: []string{"⟲", "⟳"}}
}

func (h *Heartbeat) Beat() {
	h.index = (h.index + 1) % len(h.frames)
	h.last = time.Now()
}

func (h Heartbeat) Current() string {
	return h.frames[h.index]
}

// Stale reports whether no beat arrived within d.
func (h Heartbeat) Stale(d time.Duration) bool {
	return h.last.IsZero() || time.Since(h.last) > d
}

// Activity lights up on events and fades over ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

const activityDots = 5

func (a *Activity) OnEvent() {
	a.dots = activityDots
	a.lastEvent = time.Now()
}

// Decay drops one dot for every two seconds since the last event.
func (a *Activity) Decay() {
	if a.dots == 0 {
		return
	}
	lit := activityDots - int(time.Since(a.lastEvent)/(2*time.Second))
	if lit < 0 {
		lit = 0
	}
	if lit < a.dots {
		a.dots = lit
	}
}

func (a Activity) Render(theme Theme) string {
	var result strings.Builder
	for i := range activityDots {
		if i < a.dots {
			result.WriteString(theme.tone(toneGood).Render("●"))
		} else {
			result.WriteString(theme.Muted.Render("○"))
		}
	}
	return result.String()
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}
