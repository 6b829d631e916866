package api

import (
	"time"

	"github.com/mattjoyce/dropwatch/internal/descriptor"
	"github.com/mattjoyce/dropwatch/internal/joblog"
)

// TriggerRequest is the JSON body for POST /trigger/{job}
type TriggerRequest struct {
	Args []descriptor.Arg `json:"args,omitempty"`
}

// TriggerResponse is returned once the descriptor file is in place.
type TriggerResponse struct {
	JobID      string `json:"job_id"`
	JobName    string `json:"job_name"`
	Descriptor string `json:"descriptor"`
	Path       string `json:"path"`
	Marker     string `json:"marker"`
}

// JobResponse is returned by GET /job/{job_id}
type JobResponse struct {
	*joblog.Job
	Log []joblog.LogEntry `json:"log"`
}

// JobsResponse is returned by GET /jobs
type JobsResponse struct {
	Jobs []*joblog.Job `json:"jobs"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status             string    `json:"status"`
	UptimeSeconds      int64     `json:"uptime_seconds"`
	Running            bool      `json:"running"`
	AwaitingCompletion bool      `json:"awaiting_completion"`
	CurrentJob         string    `json:"current_job,omitempty"`
	CurrentSince       time.Time `json:"current_since,omitzero"`
	GateWaiters        int       `json:"gate_waiters"`
	EventSubscribers   int       `json:"event_subscribers"`
}
