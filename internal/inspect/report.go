// Package inspect renders the recorded history of one trigger together with
// what is currently on disk for it.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/dropwatch/internal/joblog"
)

// History is the read side of joblog.Store.
type History interface {
	Get(ctx context.Context, id string) (*joblog.Job, error)
	Log(ctx context.Context, id string) ([]joblog.LogEntry, error)
}

// Report is the structured JSON representation of a job report.
type Report struct {
	JobID       string        `json:"job_id"`
	JobName     string        `json:"job_name,omitempty"`
	Args        string        `json:"args,omitempty"`
	Status      joblog.Status `json:"status"`
	SubmittedBy string        `json:"submitted_by"`
	PID         int           `json:"pid,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DurationMS  int64         `json:"duration_ms,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Descriptor  FileState     `json:"descriptor"`
	Marker      FileState     `json:"marker"`
	Transitions []Transition  `json:"transitions"`
}

// FileState says whether a file the job depends on is present right now.
type FileState struct {
	Path    string `json:"path"`
	Present bool   `json:"present"`
}

// Transition is one entry of the job log.
type Transition struct {
	Seq     int64         `json:"seq"`
	Status  joblog.Status `json:"status"`
	At      time.Time     `json:"at"`
	Message string        `json:"message,omitempty"`
}

// BuildReport renders a terminal-friendly report for a job.
func BuildReport(ctx context.Context, h History, outputDir, jobID string) (string, error) {
	report, err := gatherReportData(ctx, h, outputDir, jobID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", report.JobID)
	fmt.Fprintf(&out, "Job name    : %s\n", renderUnset(report.JobName, "<not parsed>"))
	fmt.Fprintf(&out, "Args        : %s\n", renderUnset(report.Args, "<none>"))
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Submitted   : %s\n", report.SubmittedBy)
	if report.PID != 0 {
		fmt.Fprintf(&out, "PID         : %d\n", report.PID)
	}
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt.Format(time.RFC3339))
	if report.StartedAt != nil {
		fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	}
	if report.CompletedAt != nil {
		fmt.Fprintf(&out, "Completed   : %s\n", report.CompletedAt.Format(time.RFC3339))
	}
	if report.DurationMS > 0 {
		fmt.Fprintf(&out, "Duration    : %s\n", time.Duration(report.DurationMS)*time.Millisecond)
	}
	if report.LastError != "" {
		fmt.Fprintf(&out, "Last error  : %s\n", report.LastError)
	}
	fmt.Fprintf(&out, "Descriptor  : %s (%s)\n", report.Descriptor.Path, presence(report.Descriptor.Present))
	fmt.Fprintf(&out, "Marker      : %s (%s)\n", report.Marker.Path, presence(report.Marker.Present))
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Transitions\n")
	for _, tr := range report.Transitions {
		fmt.Fprintf(&out, "  [%d] %s  %-10s", tr.Seq, tr.At.Format("2006-01-02 15:04:05.000"), tr.Status)
		if tr.Message != "" {
			fmt.Fprintf(&out, "  %s", tr.Message)
		}
		fmt.Fprintf(&out, "\n")
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, h History, outputDir, jobID string) (string, error) {
	report, err := gatherReportData(ctx, h, outputDir, jobID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, h History, outputDir, jobID string) (*Report, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	job, err := h.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := h.Log(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job log: %w", err)
	}

	report := &Report{
		JobID:       job.ID,
		JobName:     job.JobName,
		Args:        job.ArgString,
		Status:      job.Status,
		SubmittedBy: job.SubmittedBy,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Descriptor:  fileState(job.Path),
		Marker:      fileState(filepath.Join(outputDir, job.Marker)),
		Transitions: make([]Transition, 0, len(entries)),
	}
	if job.PID != nil {
		report.PID = *job.PID
	}
	if job.LastError != nil {
		report.LastError = *job.LastError
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		report.DurationMS = job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
	}

	for _, e := range entries {
		tr := Transition{Seq: e.Seq, Status: e.Status, At: e.At}
		if e.Message != nil {
			tr.Message = *e.Message
		}
		report.Transitions = append(report.Transitions, tr)
	}
	return report, nil
}

func fileState(path string) FileState {
	_, err := os.Stat(path)
	return FileState{Path: path, Present: err == nil}
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
