package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/dropwatch/internal/descriptor"
	"github.com/mattjoyce/dropwatch/internal/httpserve"
	"github.com/mattjoyce/dropwatch/internal/trigger"
)

// Server represents the webhook HTTP server.
type Server struct {
	config  Config
	dropper Dropper
	logger  *slog.Logger

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig
}

// New creates a new webhook server instance.
func New(config Config, dropper Dropper, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		dropper:   dropper,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves the endpoints on the configured listen address until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.logger.Debug("webhook endpoints", "count", len(s.endpoints))
	return httpserve.Run(ctx, srv, s.logger.With("listener", "webhook"))
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, httpserve.RequestLog(s.logger), middleware.Recoverer)
	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}
	return r
}

// handleWebhook verifies a request and drops the endpoint's descriptor.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if signature == "" {
		s.logger.Warn("webhook signature missing", "path", r.URL.Path, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := verifyHMACSignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	args, err := mergeArgs(endpoint.Args, bodyArgs(body))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	trig, err := s.dropper.Drop(descriptor.Descriptor{JobName: endpoint.Job, Args: args})
	if err != nil {
		if errors.Is(err, descriptor.ErrInvalid) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to drop webhook descriptor", "path", r.URL.Path, "job", endpoint.Job, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to write descriptor")
		return
	}

	s.logger.Info("descriptor dropped via webhook",
		"path", r.URL.Path,
		"job", endpoint.Job,
		"job_id", trig.ID.String(),
	)

	s.respondJSON(w, http.StatusAccepted, TriggerResponse{
		JobID:   trig.ID.String(),
		JobName: endpoint.Job,
		Marker:  trigger.MarkerName(trig.ID, s.config.MarkerSuffix),
	})
}

// bodyArgs extracts {"args":[...]} from body. Anything else yields nothing.
func bodyArgs(body []byte) []descriptor.Arg {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var req struct {
		Args []descriptor.Arg `json:"args"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil
	}
	return req.Args
}

// mergeArgs appends extra to fixed. A key in extra may not repeat a fixed one.
func mergeArgs(fixed, extra []descriptor.Arg) ([]descriptor.Arg, error) {
	if len(extra) == 0 {
		return fixed, nil
	}
	seen := make(map[string]bool, len(fixed))
	for _, a := range fixed {
		seen[a.Key] = true
	}
	out := append([]descriptor.Arg(nil), fixed...)
	for _, a := range extra {
		if seen[a.Key] {
			return nil, fmt.Errorf("argument %q is fixed by the endpoint", a.Key)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
