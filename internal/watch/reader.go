package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattjoyce/dropwatch/internal/lock"
)

// Reader defaults.
const (
	DefaultReadyPoll   = 100 * time.Millisecond
	DefaultRetryDelay  = time.Second
	DefaultMaxAttempts = 5
)

// Reader reads descriptor files once their producer is done with them.
//
// A file is ready when no other process holds a lock on it and its size did
// not change between two consecutive probes. While not ready the reader polls
// at ReadyPoll without limit. A transient I/O error restarts the
// ready-then-read sequence after RetryDelay, at most MaxAttempts times in
// total (0 means no limit). A missing file is never retried.
type Reader struct {
	ReadyPoll   time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
	Logger      *slog.Logger

	// probe is swapped in tests.
	probe func(path string) (bool, error)
}

// NewReader returns a Reader with the default timings.
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{
		ReadyPoll:   DefaultReadyPoll,
		RetryDelay:  DefaultRetryDelay,
		MaxAttempts: DefaultMaxAttempts,
		Logger:      logger,
	}
}

// ReadWhenReady blocks until path is ready and returns its content.
func (r *Reader) ReadWhenReady(ctx context.Context, path string) (string, error) {
	logger := r.logger()
	var lastErr error

	for attempt := 1; r.MaxAttempts <= 0 || attempt <= r.MaxAttempts; attempt++ {
		content, err := r.readOnce(ctx, path)
		if err == nil {
			return content, nil
		}
		if errors.Is(err, os.ErrNotExist) || ctx.Err() != nil {
			return "", err
		}

		lastErr = err
		logger.Warn("descriptor read failed, retrying",
			"path", path,
			"attempt", attempt,
			"retry_in", r.retryDelay().String(),
			"error", err,
		)
		if err := sleepCtx(ctx, r.retryDelay()); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("read %s: giving up after %d attempts: %w", path, r.MaxAttempts, lastErr)
}

func (r *Reader) readOnce(ctx context.Context, path string) (string, error) {
	if err := r.waitReady(ctx, path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// waitReady polls until the file is unlocked and its size is stable.
func (r *Reader) waitReady(ctx context.Context, path string) error {
	lastSize := int64(-1)
	for {
		inUse, err := r.probeFn()(path)
		if err != nil {
			return err
		}
		if !inUse {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if info.Size() == lastSize {
				return nil
			}
			lastSize = info.Size()
		} else {
			lastSize = -1
		}

		if err := sleepCtx(ctx, r.readyPoll()); err != nil {
			return err
		}
	}
}

func (r *Reader) probeFn() func(string) (bool, error) {
	if r.probe != nil {
		return r.probe
	}
	return lock.Probe
}

func (r *Reader) readyPoll() time.Duration {
	if r.ReadyPoll <= 0 {
		return DefaultReadyPoll
	}
	return r.ReadyPoll
}

func (r *Reader) retryDelay() time.Duration {
	if r.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return r.RetryDelay
}

func (r *Reader) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
