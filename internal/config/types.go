package config

import "time"

// Config represents the complete dropwatch configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Launcher LauncherConfig `yaml:"launcher"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api,omitempty"`
	Webhooks WebhooksConfig `yaml:"webhooks,omitempty"`

	// SourceFile is the absolute path the config was loaded from.
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name          string `yaml:"name"`
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file,omitempty"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb,omitempty"`
	LogMaxBackups int    `yaml:"log_max_backups,omitempty"`
	LogMaxAgeDays int    `yaml:"log_max_age_days,omitempty"`
	PIDFile       string `yaml:"pid_file"`
}

// InputConfig defines where descriptor files are dropped and how they are read.
type InputConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
	// ReadyPoll is the interval between probes while a descriptor is still
	// being written.
	ReadyPoll      time.Duration `yaml:"ready_poll"`
	ReadRetryDelay time.Duration `yaml:"read_retry_delay"`
	// MaxReadAttempts bounds retries after I/O errors. 0 means unbounded.
	MaxReadAttempts int `yaml:"max_read_attempts"`
}

// OutputConfig defines where completion markers appear.
type OutputConfig struct {
	Dir    string        `yaml:"dir"`
	Suffix string        `yaml:"suffix"`
	Poll   time.Duration `yaml:"poll"`
	// Timeout bounds the completion wait. 0 waits forever, which holds the
	// dispatch gate for as long as the launched job never writes its marker.
	Timeout time.Duration `yaml:"timeout"`
}

// LauncherConfig locates the external launcher executable.
type LauncherConfig struct {
	Path string `yaml:"path"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines the signed webhook listener. It runs only when
// endpoints are configured.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints,omitempty"`
}

// WebhookEndpoint binds a URL path to a job name.
type WebhookEndpoint struct {
	Path            string            `yaml:"path"`
	Job             string            `yaml:"job"`
	Args            map[string]string `yaml:"args,omitempty"`
	Secret          string            `yaml:"secret"`
	SignatureHeader string            `yaml:"signature_header,omitempty"`
	MaxBodySize     string            `yaml:"max_body_size,omitempty"`
}

// Defaults returns a Config with the documented default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "dropwatch",
			LogLevel:      "info",
			LogMaxSizeMB:  50,
			LogMaxBackups: 5,
			LogMaxAgeDays: 30,
			PIDFile:       "./data/dropwatch.lock",
		},
		Input: InputConfig{
			Dir:             "./flow/input",
			Pattern:         "*.input",
			ReadyPoll:       100 * time.Millisecond,
			ReadRetryDelay:  1 * time.Second,
			MaxReadAttempts: 5,
		},
		Output: OutputConfig{
			Dir:    "./flow/output",
			Suffix: ".output",
			Poll:   300 * time.Millisecond,
		},
		Launcher: LauncherConfig{
			Path: "./flow/launch/wflauncher",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Webhooks: WebhooksConfig{
			Listen: "127.0.0.1:8081",
		},
	}
}
