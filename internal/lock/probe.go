package lock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Probe reports whether path is currently held by another process.
//
// The file is opened read-write and an exclusive non-blocking flock is
// attempted. A conflicting lock, or a busy file, means the producer is still
// writing it (or a concurrent consumer holds it) and inUse is true. The probe
// lock is released before returning. Any other failure, including a missing
// file, is returned as err.
func Probe(path string) (inUse bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if isBusy(err) {
			return true, nil
		}
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if isBusy(err) {
			return true, nil
		}
		return false, fmt.Errorf("flock %s: %w", path, err)
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false, nil
}

func isBusy(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETXTBSY)
}
