package joblog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusReceived  Status = "received"
	StatusRejected  Status = "rejected"
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusSucceeded, StatusFailed, StatusTimedOut, StatusAbandoned:
		return true
	}
	return false
}

// Job is one trigger's history row.
type Job struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	JobName     string     `json:"job_name,omitempty"`
	ArgString   string     `json:"arg_string,omitempty"`
	Status      Status     `json:"status"`
	SubmittedBy string     `json:"submitted_by"`
	Marker      string     `json:"marker"`
	PID         *int       `json:"pid,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// LogEntry is one recorded status transition.
type LogEntry struct {
	Seq     int64     `json:"seq"`
	JobID   string    `json:"job_id"`
	Status  Status    `json:"status"`
	Message *string   `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

type RecordRequest struct {
	ID          uuid.UUID
	Path        string
	Marker      string
	SubmittedBy string
}

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicate is returned by Record when the identifier was seen before.
	ErrDuplicate = errors.New("duplicate job identifier")
)
