package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mattjoyce/dropwatch/internal/config"
	"github.com/mattjoyce/dropwatch/internal/descriptor"
	"github.com/mattjoyce/dropwatch/internal/events"
	"github.com/mattjoyce/dropwatch/internal/joblog"
	"github.com/mattjoyce/dropwatch/internal/launch"
	"github.com/mattjoyce/dropwatch/internal/log"
	"github.com/mattjoyce/dropwatch/internal/metrics"
	"github.com/mattjoyce/dropwatch/internal/trigger"
	"github.com/mattjoyce/dropwatch/internal/watch"
)

// submittedByWatcher tags history rows created from the input directory.
const submittedByWatcher = "watcher"

// ErrAlreadyRunning is returned by Run when the dispatcher is already running.
var ErrAlreadyRunning = errors.New("dispatcher already running")

// History records the lifecycle of each trigger. joblog.Store implements it.
type History interface {
	Record(ctx context.Context, req joblog.RecordRequest) error
	MarkWaiting(ctx context.Context, id, jobName, argString string) error
	MarkRejected(ctx context.Context, id, reason string) error
	MarkRunning(ctx context.Context, id string, pid int) error
	Complete(ctx context.Context, id string, status joblog.Status, lastError *string) error
}

// Publisher receives lifecycle events. events.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Options are the dispatcher's tunables.
type Options struct {
	InputDir     string
	InputPattern string
	OutputDir    string
	MarkerSuffix string

	ReadyPoll       time.Duration
	ReadRetryDelay  time.Duration
	MaxReadAttempts int

	CompletionPoll    time.Duration
	CompletionTimeout time.Duration
}

// OptionsFromConfig maps the input/output sections of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InputDir:          cfg.Input.Dir,
		InputPattern:      cfg.Input.Pattern,
		OutputDir:         cfg.Output.Dir,
		MarkerSuffix:      cfg.Output.Suffix,
		ReadyPoll:         cfg.Input.ReadyPoll,
		ReadRetryDelay:    cfg.Input.ReadRetryDelay,
		MaxReadAttempts:   cfg.Input.MaxReadAttempts,
		CompletionPoll:    cfg.Output.Poll,
		CompletionTimeout: cfg.Output.Timeout,
	}
}

// Deps are the dispatcher's collaborators. Only Launcher is required.
type Deps struct {
	Launcher launch.Launcher
	History  History
	Events   Publisher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Running            bool      `json:"running"`
	AwaitingCompletion bool      `json:"awaiting_completion"`
	CurrentJob         string    `json:"current_job,omitempty"`
	CurrentSince       time.Time `json:"current_since,omitzero"`
	GateWaiters        int       `json:"gate_waiters"`
}

// Dispatcher turns descriptor files into serialized launcher runs.
type Dispatcher struct {
	opts    Options
	deps    Deps
	logger  *slog.Logger
	gate    *Gate
	state   *RunState
	// withSlot runs fn inside the gate. Tests wrap it to observe the section.
	withSlot func(fn func() error) error
	reader  *watch.Reader
	metrics *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Dispatcher.
func New(opts Options, deps Deps) *Dispatcher {
	if opts.InputPattern == "" {
		opts.InputPattern = "*.input"
	}
	if opts.MarkerSuffix == "" {
		opts.MarkerSuffix = trigger.DefaultMarkerSuffix
	}
	if opts.CompletionPoll <= 0 {
		opts.CompletionPoll = 300 * time.Millisecond
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}

	d := &Dispatcher{
		opts:    opts,
		deps:    deps,
		logger:  logger,
		state:   &RunState{},
		metrics: deps.Metrics,
		reader: &watch.Reader{
			ReadyPoll:   opts.ReadyPoll,
			RetryDelay:  opts.ReadRetryDelay,
			MaxAttempts: opts.MaxReadAttempts,
			Logger:      logger,
		},
	}
	d.gate = NewGate(d.metrics.SetGateWaiters)
	d.withSlot = d.gate.WithExclusiveJobSlot
	return d
}

// State exposes the shared run state.
func (d *Dispatcher) State() *RunState {
	return d.state
}

// Status reports whether the loop runs and which job, if any, holds the gate.
func (d *Dispatcher) Status() Status {
	id, since := d.state.Current()
	return Status{
		Running:            d.state.Running(),
		AwaitingCompletion: d.state.AwaitingCompletion(),
		CurrentJob:         id,
		CurrentSince:       since,
		GateWaiters:        d.gate.Waiters(),
	}
}

// Run watches the input directory until ctx is cancelled or Stop is called.
// Failing to watch the directory is returned immediately. On shutdown Run
// waits for every in-flight handler to observe cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.deps.Launcher == nil {
		return fmt.Errorf("dispatcher has no launcher")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.cancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
	}()

	w, err := watch.NewInputWatcher(d.opts.InputDir, d.opts.InputPattern, d.logger)
	if err != nil {
		return fmt.Errorf("start input watcher: %w", err)
	}

	d.state.setRunning(true)
	d.publish(events.DispatcherStarted, map[string]string{
		"input_dir":  d.opts.InputDir,
		"output_dir": d.opts.OutputDir,
	})
	d.logger.Info("dispatch loop started", "input_dir", d.opts.InputDir, "output_dir", d.opts.OutputDir)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-w.Events():
			if !ok {
				break loop
			}
			d.wg.Add(1)
			go d.handle(ctx, ev.Path)
		}
	}

	if err := w.Close(); err != nil {
		d.logger.Warn("closing input watcher", "error", err)
	}
	d.wg.Wait()
	d.state.setRunning(false)

	d.publish(events.DispatcherStopped, nil)
	d.logger.Info("dispatch loop stopped")
	return nil
}

// Stop ends a running Run. It does not wait; Run returns once handlers exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// handle carries one trigger from its descriptor file to completion. It runs
// in its own goroutine; a panic is contained here.
func (d *Dispatcher) handle(ctx context.Context, path string) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("trigger handler panicked",
				"path", path,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			d.metrics.JobFailed(metrics.ReasonInternal)
		}
	}()

	d.metrics.TriggerReceived()

	trig, err := trigger.Parse(path)
	if err != nil {
		d.logger.Warn("discarding trigger with invalid identifier", "path", path, "error", err)
		d.metrics.TriggerRejected(metrics.ReasonInvalidIdentifier)
		d.publish(events.TriggerRejected, events.JobPayload{
			Path:   path,
			Reason: metrics.ReasonInvalidIdentifier,
			Error:  err.Error(),
		})
		return
	}

	id := trig.ID.String()
	marker := trigger.MarkerName(trig.ID, d.opts.MarkerSuffix)
	logger := d.logger.With("job_id", id, "path", path)

	if d.deps.History != nil {
		err := d.deps.History.Record(ctx, joblog.RecordRequest{
			ID:          trig.ID,
			Path:        path,
			Marker:      marker,
			SubmittedBy: submittedByWatcher,
		})
		switch {
		case errors.Is(err, joblog.ErrDuplicate):
			logger.Warn("ignoring trigger with an identifier already seen")
			d.metrics.TriggerRejected(metrics.ReasonDuplicate)
			d.publish(events.TriggerRejected, events.JobPayload{
				JobID:  id,
				Path:   path,
				Reason: metrics.ReasonDuplicate,
			})
			return
		case err != nil:
			logger.Error("failed to record trigger", "error", err)
		}
	}
	d.publish(events.TriggerReceived, events.JobPayload{JobID: id, Path: path, Marker: marker})

	content, err := d.reader.ReadWhenReady(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			d.abandon(logger, id, "shutdown before descriptor was read")
			return
		}
		d.reject(ctx, logger, id, path, metrics.ReasonReadFailed, err)
		return
	}

	desc, err := descriptor.Parse(content)
	if err != nil {
		d.reject(ctx, logger, id, path, metrics.ReasonInvalidDescriptor, err)
		return
	}
	logger = logger.With("job", desc.JobName)

	d.recordHistory(logger, "mark waiting", func(hctx context.Context) error {
		return d.deps.History.MarkWaiting(hctx, id, desc.JobName, desc.ArgString())
	})
	d.publish(events.JobWaiting, events.JobPayload{
		JobID:   id,
		JobName: desc.JobName,
		Args:    desc.ArgString(),
		Marker:  marker,
	})
	logger.Debug("waiting for dispatch gate", "waiters", d.gate.Waiters())

	_ = d.withSlot(func() error {
		return d.runJob(ctx, logger, trig, desc, marker)
	})
}

// runJob is the gated section: arm the completion watcher, launch, and wait
// for the marker.
func (d *Dispatcher) runJob(ctx context.Context, logger *slog.Logger, trig trigger.Trigger, desc descriptor.Descriptor, marker string) error {
	id := trig.ID.String()
	if ctx.Err() != nil {
		d.abandon(logger, id, "shutdown before launch")
		return ctx.Err()
	}

	d.state.beginJob(id)
	defer d.state.endJob()
	d.metrics.SetInProgress(true)
	defer d.metrics.SetInProgress(false)

	cw, err := watch.NewCompletionWatcher(d.opts.OutputDir, marker, d.state.MarkCompleted, logger)
	if err != nil {
		d.fail(logger, id, metrics.ReasonWatchFailed, fmt.Errorf("arm completion watcher: %w", err))
		return err
	}
	defer cw.Close()

	proc, err := d.deps.Launcher.Launch(ctx, desc, trig.ID)
	if err != nil {
		reason := metrics.ReasonLaunchFailed
		if errors.Is(err, launch.ErrLauncherNotFound) {
			reason = metrics.ReasonLauncherMissing
		}
		d.fail(logger, id, reason, err)
		return err
	}

	pid := 0
	if proc != nil {
		pid = proc.PID
	}
	started := time.Now()
	d.metrics.JobLaunched()
	d.recordHistory(logger, "mark running", func(hctx context.Context) error {
		return d.deps.History.MarkRunning(hctx, id, pid)
	})
	d.publish(events.JobLaunched, events.JobPayload{
		JobID:   id,
		JobName: desc.JobName,
		Args:    desc.ArgString(),
		Marker:  marker,
		PID:     pid,
	})
	logger.Info("job launched, awaiting completion marker",
		"event_code", log.LaunchEventCode,
		"pid", pid,
		"marker", cw.MarkerPath(),
	)

	switch d.awaitCompletion(ctx) {
	case completionObserved:
		elapsed := time.Since(started)
		logger.Info("job completed", "event_code", log.LaunchEventCode, "duration", elapsed.String())
		d.metrics.JobCompleted(elapsed)
		d.recordHistory(logger, "complete", func(hctx context.Context) error {
			return d.deps.History.Complete(hctx, id, joblog.StatusSucceeded, nil)
		})
		d.publish(events.JobCompleted, events.JobPayload{
			JobID:      id,
			JobName:    desc.JobName,
			Marker:     marker,
			DurationMS: float64(elapsed.Milliseconds()),
		})
		return nil

	case completionTimedOut:
		msg := fmt.Sprintf("completion marker %s not seen within %s", marker, d.opts.CompletionTimeout)
		logger.Warn("job timed out, releasing dispatch gate", "marker", marker, "timeout", d.opts.CompletionTimeout.String())
		d.metrics.JobTimedOut()
		d.recordHistory(logger, "complete", func(hctx context.Context) error {
			return d.deps.History.Complete(hctx, id, joblog.StatusTimedOut, &msg)
		})
		d.publish(events.JobTimedOut, events.JobPayload{JobID: id, JobName: desc.JobName, Marker: marker, Error: msg})
		return errors.New(msg)

	default:
		d.abandon(logger, id, "shutdown while awaiting completion marker")
		return ctx.Err()
	}
}

type completionResult int

const (
	completionObserved completionResult = iota
	completionTimedOut
	completionCancelled
)

// awaitCompletion polls awaitingCompletion until the watcher clears it.
func (d *Dispatcher) awaitCompletion(ctx context.Context) completionResult {
	ticker := time.NewTicker(d.opts.CompletionPoll)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if d.opts.CompletionTimeout > 0 {
		timer := time.NewTimer(d.opts.CompletionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if !d.state.AwaitingCompletion() {
			return completionObserved
		}
		select {
		case <-ctx.Done():
			return completionCancelled
		case <-timeout:
			if !d.state.AwaitingCompletion() {
				return completionObserved
			}
			return completionTimedOut
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) reject(ctx context.Context, logger *slog.Logger, id, path, reason string, err error) {
	logger.Warn("rejecting trigger", "reason", reason, "error", err)
	d.metrics.TriggerRejected(reason)
	d.recordHistory(logger, "mark rejected", func(hctx context.Context) error {
		return d.deps.History.MarkRejected(hctx, id, err.Error())
	})
	d.publish(events.TriggerRejected, events.JobPayload{
		JobID:  id,
		Path:   path,
		Reason: reason,
		Error:  err.Error(),
	})
}

func (d *Dispatcher) fail(logger *slog.Logger, id, reason string, err error) {
	logger.Error("job failed", "event_code", log.LaunchEventCode, "reason", reason, "error", err)
	d.metrics.JobFailed(reason)
	msg := err.Error()
	d.recordHistory(logger, "complete", func(hctx context.Context) error {
		return d.deps.History.Complete(hctx, id, joblog.StatusFailed, &msg)
	})
	d.publish(events.JobFailed, events.JobPayload{JobID: id, Reason: reason, Error: msg})
}

func (d *Dispatcher) abandon(logger *slog.Logger, id, why string) {
	logger.Warn("job abandoned", "reason", why)
	d.recordHistory(logger, "complete", func(hctx context.Context) error {
		return d.deps.History.Complete(hctx, id, joblog.StatusAbandoned, &why)
	})
	d.publish(events.JobAbandoned, events.JobPayload{JobID: id, Reason: why})
}

// recordHistory runs fn against the history store, if one is configured. The
// store is written even during shutdown, so it gets its own short deadline.
func (d *Dispatcher) recordHistory(logger *slog.Logger, op string, fn func(ctx context.Context) error) {
	if d.deps.History == nil {
		return
	}
	hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(hctx); err != nil {
		logger.Error("history update failed", "op", op, "error", err)
	}
}

func (d *Dispatcher) publish(eventType string, data any) {
	if d.deps.Events == nil {
		return
	}
	d.deps.Events.Publish(eventType, data)
}
