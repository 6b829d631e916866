package watch

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/dropwatch/internal/events"
	"github.com/mattjoyce/dropwatch/internal/joblog"
)

// maxTrackedJobs bounds the job table; the oldest finished jobs fall off.
const maxTrackedJobs = 100

// JobState tracks one trigger as seen through the event stream.
type JobState struct {
	ID       string
	JobName  string
	Args     string
	Status   joblog.Status
	PID      int
	Reason   string
	Received time.Time
	Started  time.Time
	Ended    time.Time
}

func (j *JobState) finished() bool {
	return !j.Ended.IsZero()
}

// eventStatus maps job events to the status they leave a job in.
var eventStatus = map[string]joblog.Status{
	events.TriggerReceived: joblog.StatusReceived,
	events.TriggerRejected: joblog.StatusRejected,
	events.JobWaiting:      joblog.StatusWaiting,
	events.JobLaunched:     joblog.StatusRunning,
	events.JobCompleted:    joblog.StatusSucceeded,
	events.JobFailed:       joblog.StatusFailed,
	events.JobTimedOut:     joblog.StatusTimedOut,
	events.JobAbandoned:    joblog.StatusAbandoned,
}

// updateJobState folds one event into jobs. Events without a job id are
// ignored.
func updateJobState(jobs map[string]*JobState, e events.Event) {
	var p events.JobPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == "" {
		return
	}

	job, ok := jobs[p.JobID]
	if !ok {
		job = &JobState{ID: p.JobID, Received: e.At}
		jobs[p.JobID] = job
	}
	if p.JobName != "" {
		job.JobName = p.JobName
	}
	if p.Args != "" {
		job.Args = p.Args
	}
	if p.PID != 0 {
		job.PID = p.PID
	}
	if p.Reason != "" {
		job.Reason = p.Reason
	}

	if status, ok := eventStatus[e.Type]; ok {
		job.Status = status
		switch {
		case status == joblog.StatusRunning:
			job.Started = e.At
		case status.Terminal():
			job.Ended = e.At
		}
	}

	pruneJobs(jobs)
}

func pruneJobs(jobs map[string]*JobState) {
	if len(jobs) <= maxTrackedJobs {
		return
	}
	done := make([]*JobState, 0, len(jobs))
	for _, j := range jobs {
		if j.finished() {
			done = append(done, j)
		}
	}
	sort.Slice(done, func(a, b int) bool { return done[a].Ended.Before(done[b].Ended) })
	for _, j := range done {
		if len(jobs) <= maxTrackedJobs {
			return
		}
		delete(jobs, j.ID)
	}
}

// sortedJobs returns jobs newest first.
func sortedJobs(jobs map[string]*JobState) []*JobState {
	out := make([]*JobState, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Received.Equal(out[b].Received) {
			return out[a].ID < out[b].ID
		}
		return out[a].Received.After(out[b].Received)
	})
	return out
}

func newJobTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 20},
			{Title: "ID", Width: 8},
			{Title: "Status", Width: 10},
			{Title: "PID", Width: 7},
			{Title: "Duration", Width: 10},
			{Title: "Args", Width: 30},
		}),
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
	return t
}

func jobRows(jobs map[string]*JobState, theme Theme, now time.Time) []table.Row {
	sorted := sortedJobs(jobs)
	rows := make([]table.Row, 0, len(sorted))
	for _, j := range sorted {
		pid := "-"
		if j.PID != 0 {
			pid = strconv.Itoa(j.PID)
		}
		rows = append(rows, table.Row{
			theme.Glyph(j.Status),
			j.JobName,
			shortID(j.ID),
			string(j.Status),
			pid,
			jobDuration(j, now),
			truncate(j.Args, 30),
		})
	}
	return rows
}

func jobDuration(j *JobState, now time.Time) string {
	if j.Started.IsZero() {
		return "-"
	}
	end := j.Ended
	if end.IsZero() {
		end = now
	}
	return end.Sub(j.Started).Round(time.Millisecond).String()
}

func renderJobs(t table.Model, theme Theme, width int) string {
	return theme.Panel.Width(width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("JOBS"),
			t.View(),
		),
	)
}
