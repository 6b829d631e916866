// Package doctor checks a loaded dropwatch configuration against the host:
// whether the directories and launcher it names exist and are usable.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mattjoyce/dropwatch/internal/auth"
	"github.com/mattjoyce/dropwatch/internal/config"
	"github.com/mattjoyce/dropwatch/internal/storage"
	"github.com/mattjoyce/dropwatch/internal/trigger"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration against the local filesystem.
type Doctor struct {
	cfg *config.Config

	// fsCheck is storage.ValidateLocalFilesystem, replaceable in tests.
	fsCheck func(path, setting string) error
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, fsCheck: storage.ValidateLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateDirs(r)
	d.validateLauncher(r)
	d.validateFilesystems(r)
	d.validateTokenScopes(r)
	d.warnInputPattern(r)
	d.warnMarkerSuffix(r)
	d.warnUnboundedWait(r)
	d.warnLegacyAPIKey(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateDirs checks that the watched directories exist.
func (d *Doctor) validateDirs(r *Result) {
	for _, dir := range []struct{ field, path string }{
		{"input.dir", d.cfg.Input.Dir},
		{"output.dir", d.cfg.Output.Dir},
	} {
		info, err := os.Stat(dir.path)
		switch {
		case os.IsNotExist(err):
			d.addError(r, "dirs", dir.field, fmt.Sprintf("%s does not exist", dir.path))
		case err != nil:
			d.addError(r, "dirs", dir.field, err.Error())
		case !info.IsDir():
			d.addError(r, "dirs", dir.field, fmt.Sprintf("%s is not a directory", dir.path))
		}
	}

	stateDir := filepath.Dir(d.cfg.State.Path)
	if _, err := os.Stat(stateDir); os.IsNotExist(err) {
		d.addWarning(r, "dirs", "state.path", fmt.Sprintf("%s will be created on start", stateDir))
	}
}

// validateLauncher checks the launcher is an executable regular file.
func (d *Doctor) validateLauncher(r *Result) {
	path := d.cfg.Launcher.Path
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		d.addError(r, "launcher", "launcher.path", fmt.Sprintf("%s does not exist", path))
		return
	case err != nil:
		d.addError(r, "launcher", "launcher.path", err.Error())
		return
	case !info.Mode().IsRegular():
		d.addError(r, "launcher", "launcher.path", fmt.Sprintf("%s is not a regular file", path))
		return
	}
	if info.Mode().Perm()&0o111 == 0 {
		d.addError(r, "launcher", "launcher.path", fmt.Sprintf("%s is not executable", path))
	}
}

// validateFilesystems rejects network mounts for watched and state paths.
func (d *Doctor) validateFilesystems(r *Result) {
	for _, p := range []struct{ field, path string }{
		{"input.dir", d.cfg.Input.Dir},
		{"output.dir", d.cfg.Output.Dir},
		{"state.path", d.cfg.State.Path},
	} {
		if err := d.fsCheck(p.path, p.field); err != nil {
			d.addError(r, "filesystem", p.field, err.Error())
		}
	}
}

// validateTokenScopes flags scopes the API does not understand.
func (d *Doctor) validateTokenScopes(r *Result) {
	known := map[string]bool{
		auth.ScopeAll:      true,
		auth.ScopeJobsRO:   true,
		auth.ScopeJobsRW:   true,
		auth.ScopeEventsRO: true,
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !known[strings.TrimSpace(scope)] {
				d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q grants nothing", scope))
			}
		}
	}
}

// warnInputPattern warns when the pattern would ignore canonical descriptor
// names, e.g. those written by POST /trigger.
func (d *Doctor) warnInputPattern(r *Result) {
	sample := trigger.FileName(uuid.Nil, ".input")
	if ok, _ := filepath.Match(d.cfg.Input.Pattern, sample); !ok {
		d.addWarning(r, "input", "input.pattern",
			fmt.Sprintf("pattern %q does not match %s", d.cfg.Input.Pattern, sample))
	}
}

func (d *Doctor) warnMarkerSuffix(r *Result) {
	if !strings.HasPrefix(d.cfg.Output.Suffix, ".") {
		d.addWarning(r, "output", "output.suffix",
			fmt.Sprintf("suffix %q does not start with '.'", d.cfg.Output.Suffix))
	}
}

func (d *Doctor) warnUnboundedWait(r *Result) {
	if d.cfg.Output.Timeout == 0 {
		d.addWarning(r, "output", "output.timeout",
			"no completion timeout; a job that never writes its marker blocks every later job")
	}
}

func (d *Doctor) warnLegacyAPIKey(r *Result) {
	if d.cfg.API.Enabled && d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth.api_key",
			"api_key grants full access; prefer scoped tokens")
	}
}

// FormatHuman renders r for a terminal.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
