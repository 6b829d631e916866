// Package trigger derives job identity from descriptor file names.
package trigger

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultMarkerSuffix is appended to the dash-less identifier to form the
// completion marker name.
const DefaultMarkerSuffix = ".output"

// ErrInvalidIdentifier is returned when a file name does not start with a UUID.
var ErrInvalidIdentifier = errors.New("file name does not carry a valid identifier")

// Trigger is a descriptor file that carries a parseable identifier.
type Trigger struct {
	Path string
	ID   uuid.UUID
}

// Parse extracts the identifier from the leading segment of the file name at
// path, i.e. everything before the first '.'.
func Parse(path string) (Trigger, error) {
	base := filepath.Base(path)
	lead, _, _ := strings.Cut(base, ".")

	id, err := uuid.Parse(lead)
	if err != nil {
		return Trigger{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, base)
	}
	return Trigger{Path: path, ID: id}, nil
}

// MarkerName returns the file name whose appearance in the output directory
// signals completion of the job identified by id.
func MarkerName(id uuid.UUID, suffix string) string {
	if suffix == "" {
		suffix = DefaultMarkerSuffix
	}
	return strings.ReplaceAll(id.String(), "-", "") + suffix
}

// FileName returns the descriptor file name for id with the given extension
// (e.g. ".input").
func FileName(id uuid.UUID, ext string) string {
	return id.String() + ext
}
