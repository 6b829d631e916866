package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up when Load is given a directory.
const DefaultFileName = "config.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and validates the configuration at configPath, which
// may be a file or a directory containing config.yaml. Relative paths inside
// the file are resolved against the directory the file lives in.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyLocked(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}
	cfg.SourceFile = absPath
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Defaults after ${VAR} interpolation. It does
// not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := interpolateEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// An empty document leaves the defaults in place.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// ResolvePath turns a user-supplied --config value into the absolute path of
// the YAML file.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFileName)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", DefaultFileName, absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigDir finds the config directory by checking standard locations.
// Priority order: $DROPWATCH_CONFIG_DIR, ~/.config/dropwatch, /etc/dropwatch, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("DROPWATCH_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "dropwatch")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/dropwatch"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	legacyConfigPath := "./" + DefaultFileName
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $DROPWATCH_CONFIG_DIR, ~/.config/dropwatch, /etc/dropwatch, ./config.yaml)")
}

func (c *Config) resolvePaths(baseDir string) {
	for _, p := range []*string{
		&c.Service.LogFile,
		&c.Service.PIDFile,
		&c.Input.Dir,
		&c.Output.Dir,
		&c.Launcher.Path,
		&c.State.Path,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate rejects it where it matters.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.PIDFile == "" {
		return fmt.Errorf("service.pid_file is required")
	}

	if cfg.Input.Dir == "" {
		return fmt.Errorf("input.dir is required")
	}
	if cfg.Input.Pattern == "" {
		return fmt.Errorf("input.pattern is required")
	}
	if _, err := filepath.Match(cfg.Input.Pattern, "x"); err != nil {
		return fmt.Errorf("input.pattern %q: %w", cfg.Input.Pattern, err)
	}
	if cfg.Input.ReadyPoll <= 0 {
		return fmt.Errorf("input.ready_poll must be positive")
	}
	if cfg.Input.ReadRetryDelay <= 0 {
		return fmt.Errorf("input.read_retry_delay must be positive")
	}
	if cfg.Input.MaxReadAttempts < 0 {
		return fmt.Errorf("input.max_read_attempts must be >= 0 (0 means unbounded)")
	}

	if cfg.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if cfg.Output.Suffix == "" {
		return fmt.Errorf("output.suffix is required")
	}
	if cfg.Output.Poll <= 0 {
		return fmt.Errorf("output.poll must be positive")
	}
	if cfg.Output.Timeout < 0 {
		return fmt.Errorf("output.timeout must be >= 0 (0 means wait forever)")
	}
	if filepath.Clean(cfg.Input.Dir) == filepath.Clean(cfg.Output.Dir) {
		return fmt.Errorf("input.dir and output.dir must differ")
	}

	if cfg.Launcher.Path == "" {
		return fmt.Errorf("launcher.path is required")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth requires api_key or tokens when api is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if envVarPattern.MatchString(tok.Token) {
				matches := envVarPattern.FindStringSubmatch(tok.Token)
				return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	seen := make(map[string]bool, len(cfg.Webhooks.Endpoints))
	for i, ep := range cfg.Webhooks.Endpoints {
		if cfg.Webhooks.Listen == "" {
			return fmt.Errorf("webhooks.listen is required when endpoints are configured")
		}
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("webhooks.endpoints[%d].path must start with '/' (got %q)", i, ep.Path)
		}
		if seen[ep.Path] {
			return fmt.Errorf("webhooks.endpoints[%d].path %q is duplicated", i, ep.Path)
		}
		seen[ep.Path] = true
		if ep.Job == "" {
			return fmt.Errorf("webhooks.endpoints[%d].job is required", i)
		}
		if ep.Secret == "" {
			return fmt.Errorf("webhooks.endpoints[%d].secret is required", i)
		}
		if envVarPattern.MatchString(ep.Secret) {
			matches := envVarPattern.FindStringSubmatch(ep.Secret)
			return fmt.Errorf("webhooks.endpoints[%d].secret: environment variable ${%s} is not set", i, matches[1])
		}
	}

	return nil
}
