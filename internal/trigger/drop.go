package trigger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mattjoyce/dropwatch/internal/descriptor"
)

// DefaultInputExt is used when the input pattern does not name an extension.
const DefaultInputExt = ".input"

// ErrPatternMismatch is returned when the watcher's glob would ignore the
// file Drop is about to write.
var ErrPatternMismatch = errors.New("descriptor name does not match input pattern")

// Dropper writes descriptor files into the watched input directory the same
// way an external tool does.
type Dropper struct {
	Dir     string
	Pattern string
}

// NewDropper returns a Dropper for dir. An empty pattern means "*.input".
func NewDropper(dir, pattern string) *Dropper {
	if pattern == "" {
		pattern = "*" + DefaultInputExt
	}
	return &Dropper{Dir: dir, Pattern: pattern}
}

// Drop validates d and writes it under a fresh identifier. The file appears
// in Dir by rename, so the watcher never sees a partial descriptor.
func (dr *Dropper) Drop(d descriptor.Descriptor) (Trigger, error) {
	if err := d.Validate(); err != nil {
		return Trigger{}, err
	}

	id := uuid.New()
	name := FileName(id, InputExt(dr.Pattern))
	if ok, _ := filepath.Match(dr.Pattern, name); !ok {
		return Trigger{}, fmt.Errorf("%w: %s vs %q", ErrPatternMismatch, name, dr.Pattern)
	}

	path, err := writeAtomic(dr.Dir, name, d.String())
	if err != nil {
		return Trigger{}, err
	}
	return Trigger{Path: path, ID: id}, nil
}

// InputExt derives the descriptor extension from a "*.ext" glob.
func InputExt(pattern string) string {
	rest, ok := strings.CutPrefix(pattern, "*")
	if !ok || !strings.HasPrefix(rest, ".") || strings.ContainsAny(rest, `*?[\`) {
		return DefaultInputExt
	}
	return rest
}

// writeAtomic writes content to dir/name via a hidden temp file and a rename.
func writeAtomic(dir, name, content string) (string, error) {
	tmp, err := os.CreateTemp(dir, ".dropwatch-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod temp file: %w", err)
	}

	dest := filepath.Join(dir, name)
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return dest, nil
}
