// Package lock provides flock(2) based file locks: a PID lock that keeps the
// dispatcher single-instance, and a probe that tells whether another process
// still holds a file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned by AcquirePIDLock when another process owns the lock.
var ErrHeld = errors.New("lock held by another process")

// PIDLock holds an exclusive flock on a file containing our PID. The lock
// lasts as long as the descriptor stays open.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock takes the lock at path without blocking. When another
// dropwatch holds it the error wraps ErrHeld and names that process's PID.
func AcquirePIDLock(path string) (*PIDLock, error) {
	if path == "" {
		return nil, errors.New("pid file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if isBusy(err) {
			if pid, ok := holderPID(path); ok {
				return nil, fmt.Errorf("%w: %s (pid %d)", ErrHeld, path, pid)
			}
			return nil, fmt.Errorf("%w: %s", ErrHeld, path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	l := &PIDLock{path: path, f: f}
	if err := writePID(f); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("record pid in %s: %w", path, err)
	}
	return l, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}
	return f.Sync()
}

// holderPID reads the PID written by the current lock owner.
func holderPID(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	return pid, err == nil && pid > 0
}

func (l *PIDLock) Path() string { return l.path }

// Release drops the lock. The PID file stays behind; the next owner
// overwrites it.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
