// Package descriptor parses and validates the content of trigger descriptor
// files.
//
// A descriptor is either a bare job name:
//
//	build
//
// or a job name followed by a '|' and a '^'-separated list of key=value pairs:
//
//	build|env=prod^retries=3
//
// Job names and keys are restricted to [A-Za-z0-9_]; values may additionally
// contain spaces.
package descriptor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	nameSeparator = "|"
	pairSeparator = "^"
	kvSeparator   = "="
)

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	valuePattern = regexp.MustCompile(`^[A-Za-z0-9_ ]+$`)
)

// ErrInvalid is matched by every validation failure returned from Parse.
var ErrInvalid = errors.New("invalid descriptor")

// ValidationError names the token that failed validation.
type ValidationError struct {
	Token  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid descriptor token %q: %s", e.Token, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Arg is a single key/value argument.
type Arg struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Descriptor is a validated job name with its ordered arguments.
type Descriptor struct {
	JobName string `json:"job_name"`
	Args    []Arg  `json:"args,omitempty"`
}

// Parse turns raw descriptor content into a validated Descriptor.
func Parse(raw string) (Descriptor, error) {
	name, blob, hasArgs := strings.Cut(raw, nameSeparator)
	name = strings.TrimSpace(name)

	if err := ValidateName(name); err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{JobName: name}
	if !hasArgs {
		return d, nil
	}

	blob = strings.TrimSpace(blob)
	if blob == "" {
		return d, nil
	}

	for _, token := range strings.Split(blob, pairSeparator) {
		arg, err := parseArg(token)
		if err != nil {
			return Descriptor{}, err
		}
		d.Args = append(d.Args, arg)
	}
	return d, nil
}

func parseArg(token string) (Arg, error) {
	parts := strings.Split(token, kvSeparator)
	switch {
	case len(parts) < 2:
		return Arg{}, &ValidationError{Token: token, Reason: "missing '='"}
	case len(parts) > 2:
		return Arg{}, &ValidationError{Token: token, Reason: "more than one '='"}
	}

	key := strings.TrimSpace(parts[0])
	if !namePattern.MatchString(key) {
		return Arg{}, &ValidationError{Token: token, Reason: fmt.Sprintf("key %q must match %s", key, namePattern)}
	}

	value := strings.TrimSpace(parts[1])
	if value == "" && allSpaces(parts[1]) {
		// All spaces is a legal value; keep it as given.
		value = parts[1]
	}
	if !valuePattern.MatchString(value) {
		return Arg{}, &ValidationError{Token: token, Reason: fmt.Sprintf("value %q must match %s", value, valuePattern)}
	}

	return Arg{Key: key, Value: value}, nil
}

// ValidateName reports whether name is a legal job name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return &ValidationError{Token: name, Reason: fmt.Sprintf("job name must match %s", namePattern)}
	}
	return nil
}

// Validate checks a Descriptor built outside Parse, e.g. from an API request.
func (d Descriptor) Validate() error {
	if err := ValidateName(d.JobName); err != nil {
		return err
	}
	for i, a := range d.Args {
		token := a.Key + kvSeparator + a.Value
		if !namePattern.MatchString(a.Key) {
			return &ValidationError{Token: token, Reason: fmt.Sprintf("key %q must match %s", a.Key, namePattern)}
		}
		if !valuePattern.MatchString(a.Value) {
			return &ValidationError{Token: token, Reason: fmt.Sprintf("value %q must match %s", a.Value, valuePattern)}
		}
		// Parse trims the whole argument blob, which would empty this value.
		if i == len(d.Args)-1 && allSpaces(a.Value) {
			return &ValidationError{Token: token, Reason: "the last argument cannot be all spaces"}
		}
	}
	return nil
}

func allSpaces(s string) bool {
	return s != "" && strings.Trim(s, " ") == ""
}

// ArgString serializes the arguments as k1=v1^k2=v2. It is empty when there
// are no arguments.
func (d Descriptor) ArgString() string {
	pairs := make([]string, 0, len(d.Args))
	for _, a := range d.Args {
		pairs = append(pairs, a.Key+kvSeparator+a.Value)
	}
	return strings.Join(pairs, pairSeparator)
}

// String serializes the descriptor back into file content.
func (d Descriptor) String() string {
	if len(d.Args) == 0 {
		return d.JobName
	}
	return d.JobName + nameSeparator + d.ArgString()
}
