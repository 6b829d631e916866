package webhook

import (
	"github.com/mattjoyce/dropwatch/internal/descriptor"
	"github.com/mattjoyce/dropwatch/internal/trigger"
)

// Dropper writes a descriptor into the input directory. trigger.Dropper
// implements it.
type Dropper interface {
	Drop(d descriptor.Descriptor) (trigger.Trigger, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
	// MarkerSuffix is echoed back so callers know which marker to expect.
	MarkerSuffix string
}

// EndpointConfig binds one URL path to one job.
type EndpointConfig struct {
	// Path is the URL path for this webhook (e.g. "/hooks/nightly").
	Path string
	// Job is the job name written into every descriptor from this endpoint.
	Job string
	// Args are fixed arguments sent with every trigger. Request bodies may
	// add keys but not override these.
	Args []descriptor.Arg
	// Secret is the HMAC key.
	Secret string
	// SignatureHeader carries the signature, e.g. "X-Hub-Signature-256".
	SignatureHeader string
	MaxBodySize     int64
}

// TriggerResponse is the JSON response for accepted webhooks.
type TriggerResponse struct {
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
	Marker  string `json:"marker"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Hub-Signature-256"
)
