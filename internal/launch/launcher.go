// Package launch starts the external launcher executable for a job.
//
// The launcher is invoked as
//
//	<launcher> <jobName> <identifier> [<argString>]
//
// from its own directory, detached from the dispatcher: no standard streams
// are connected and the child gets its own process group. Completion is never
// inferred from the child process; the dispatcher waits for a marker file.
package launch

//go:generate mockgen -destination=mocks/mock_launcher.go -package=mocks github.com/mattjoyce/dropwatch/internal/launch Launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/dropwatch/internal/descriptor"
	"github.com/mattjoyce/dropwatch/internal/log"
)

// ErrLauncherNotFound is returned when the configured executable is missing
// or is a directory.
var ErrLauncherNotFound = errors.New("launcher not found")

// Launcher starts a job. Implementations must return as soon as the job is
// running.
type Launcher interface {
	Launch(ctx context.Context, d descriptor.Descriptor, id uuid.UUID) (*Process, error)
}

// Process describes a started launcher child.
type Process struct {
	PID       int
	StartedAt time.Time

	exited   chan struct{}
	mu       sync.Mutex
	exitCode int
}

// NewProcess builds a Process record for a child that is not tracked by
// ExecLauncher. Its Exited channel never closes.
func NewProcess(pid int) *Process {
	return &Process{PID: pid, StartedAt: time.Now(), exited: make(chan struct{})}
}

// Exited is closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitCode reports the reaped child's exit status, or -1 while it runs.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.exited:
		return p.exitCode
	default:
		return -1
	}
}

// ExecLauncher runs an executable on the local filesystem.
type ExecLauncher struct {
	path   string
	logger *slog.Logger
}

// New returns an ExecLauncher for the executable at path.
func New(path string, logger *slog.Logger) *ExecLauncher {
	if logger == nil {
		logger = log.WithComponent("launch")
	}
	return &ExecLauncher{path: path, logger: logger}
}

// Path returns the configured executable path.
func (l *ExecLauncher) Path() string {
	return l.path
}

// Check verifies that the executable exists and is not a directory.
func (l *ExecLauncher) Check() error {
	info, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLauncherNotFound, l.path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrLauncherNotFound, l.path)
	}
	return nil
}

// Args builds the argv passed to the launcher, excluding the program name.
func Args(d descriptor.Descriptor, id uuid.UUID) []string {
	args := []string{d.JobName, id.String()}
	if s := d.ArgString(); s != "" {
		args = append(args, s)
	}
	return args
}

// Launch starts the executable and returns once it is running. ctx only
// bounds the start; cancelling it later does not signal the child.
func (l *ExecLauncher) Launch(ctx context.Context, d descriptor.Descriptor, id uuid.UUID) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.Check(); err != nil {
		return nil, err
	}

	args := Args(d, id)
	cmd := exec.Command(l.path, args...)
	cmd.Dir = filepath.Dir(l.path)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)

	logger := l.logger.With("job_id", id.String(), "job", d.JobName)
	logger.Info("launching job",
		"event_code", log.LaunchEventCode,
		"launcher", l.path,
		"args", args,
	)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.path, err)
	}

	proc := &Process{
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		exited:    make(chan struct{}),
	}
	go reap(cmd, proc, logger)

	return proc, nil
}

// reap collects the child so it does not linger as a zombie. The exit status
// is informational only.
func reap(cmd *exec.Cmd, proc *Process, logger *slog.Logger) {
	err := cmd.Wait()

	proc.mu.Lock()
	proc.exitCode = 0
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		proc.exitCode = exitErr.ExitCode()
	case err != nil:
		proc.exitCode = -1
	}
	code := proc.exitCode
	proc.mu.Unlock()
	close(proc.exited)

	logger.Debug("launcher exited", "pid", proc.PID, "exit_code", code, "error", err)
}
