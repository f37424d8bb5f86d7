package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// ITPS_GLOBAL_LOG_LEVEL overrides global.log_level.
	EnvPrefix = "ITPS"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSchedulerInterval is the default interval between scheduled runs.
	DefaultSchedulerInterval = "6h"

	// DefaultFetchTimeout is the default per-attempt request timeout.
	DefaultFetchTimeout = "30s"

	// DefaultFetchMaxAttempts is the default number of attempts per request.
	DefaultFetchMaxAttempts = 3

	// DefaultFetchInitialBackoff is the default delay before the first retry.
	DefaultFetchInitialBackoff = "1s"

	// DefaultFetchMaxBackoff caps the delay between retries.
	DefaultFetchMaxBackoff = "30s"

	// DefaultFetchRequestsPerSecond is the default politeness rate per source.
	DefaultFetchRequestsPerSecond = 0.5

	// DefaultFetchBurst is the default politeness burst per source.
	DefaultFetchBurst = 1

	// DefaultEventBuffer is the default buffer size for progress subscribers.
	DefaultEventBuffer = 256
)

// Adapter kinds understood by the source registry.
const (
	AdapterCommunica     = "communica"
	AdapterMicroRobotics = "microrobotics"
	AdapterMock          = "mock"
)

// Config is the root configuration for the scraper service.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Sources   []SourceConfig  `yaml:"sources" mapstructure:"sources"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Archive   ArchiveConfig   `yaml:"archive,omitempty" mapstructure:"archive"`
}

// GlobalConfig contains settings shared by every command.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level" mapstructure:"log_level"`
	EventBuffer int    `yaml:"event_buffer,omitempty" mapstructure:"event_buffer"`
}

// SchedulerConfig controls periodic runs.
type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Interval   string `yaml:"interval,omitempty" mapstructure:"interval"`
	RunOnStart bool   `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// FetchConfig holds the retry and politeness policy for outbound requests.
// Source entries may override any subset of it.
type FetchConfig struct {
	Timeout           string   `yaml:"timeout,omitempty" mapstructure:"timeout"`
	MaxAttempts       int      `yaml:"max_attempts,omitempty" mapstructure:"max_attempts"`
	InitialBackoff    string   `yaml:"initial_backoff,omitempty" mapstructure:"initial_backoff"`
	MaxBackoff        string   `yaml:"max_backoff,omitempty" mapstructure:"max_backoff"`
	RequestsPerSecond float64  `yaml:"requests_per_second,omitempty" mapstructure:"requests_per_second"`
	Burst             int      `yaml:"burst,omitempty" mapstructure:"burst"`
	UserAgents        []string `yaml:"user_agents,omitempty" mapstructure:"user_agents"`
}

// SourceConfig defines a single distributor source.
type SourceConfig struct {
	Name    string         `yaml:"name" mapstructure:"name"`
	Adapter string         `yaml:"adapter" mapstructure:"adapter"`
	Enabled *bool          `yaml:"enabled,omitempty" mapstructure:"enabled"`
	BaseURL string         `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Fetch   *FetchConfig   `yaml:"fetch,omitempty" mapstructure:"fetch"`
	Options map[string]any `yaml:"options,omitempty" mapstructure:"options"`
}

// IsEnabled reports whether the source takes part in default runs.
// Sources are enabled unless explicitly disabled.
func (s *SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Load reads one or more YAML configuration files, merges them in order,
// applies ITPS_* environment overrides, and fills in defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerKeys(v)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}

		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("merging config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Parse decodes a single YAML document without environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// registerKeys makes scalar keys known to viper so that environment
// variables override them even when no file sets them.
func registerKeys(v *viper.Viper) {
	for _, key := range []string{
		"global.log_level",
		"global.event_buffer",
		"scheduler.enabled",
		"scheduler.interval",
		"scheduler.run_on_start",
		"fetch.timeout",
		"fetch.max_attempts",
		"fetch.initial_backoff",
		"fetch.max_backoff",
		"fetch.requests_per_second",
		"fetch.burst",
		"database.driver",
		"database.sqlite.path",
		"database.postgres.host",
		"database.postgres.port",
		"database.postgres.user",
		"database.postgres.password",
		"database.postgres.database",
		"database.postgres.ssl_mode",
		"server.listen",
	} {
		_ = v.BindEnv(key)
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.EventBuffer <= 0 {
		c.Global.EventBuffer = DefaultEventBuffer
	}

	if c.Scheduler.Interval == "" {
		c.Scheduler.Interval = DefaultSchedulerInterval
	}

	if c.Fetch.Timeout == "" {
		c.Fetch.Timeout = DefaultFetchTimeout
	}

	if c.Fetch.MaxAttempts <= 0 {
		c.Fetch.MaxAttempts = DefaultFetchMaxAttempts
	}

	if c.Fetch.InitialBackoff == "" {
		c.Fetch.InitialBackoff = DefaultFetchInitialBackoff
	}

	if c.Fetch.MaxBackoff == "" {
		c.Fetch.MaxBackoff = DefaultFetchMaxBackoff
	}

	if c.Fetch.RequestsPerSecond <= 0 {
		c.Fetch.RequestsPerSecond = DefaultFetchRequestsPerSecond
	}

	if c.Fetch.Burst <= 0 {
		c.Fetch.Burst = DefaultFetchBurst
	}

	c.Database.applyDefaults()
	c.Server.applyDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	seen := make(map[string]struct{}, len(c.Sources))

	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}

		if _, exists := seen[src.Name]; exists {
			return fmt.Errorf("source %d: duplicate name %q", i, src.Name)
		}

		seen[src.Name] = struct{}{}

		if src.Adapter == "" {
			return fmt.Errorf("source %q: adapter is required", src.Name)
		}

		if !isValidAdapter(src.Adapter) {
			return fmt.Errorf("source %q: unknown adapter %q", src.Name, src.Adapter)
		}

		if src.Adapter != AdapterMock && src.BaseURL == "" {
			return fmt.Errorf("source %q: base_url is required", src.Name)
		}

		if src.Fetch != nil {
			if _, err := c.Fetch.Merge(src.Fetch).Policy(); err != nil {
				return fmt.Errorf("source %q: fetch: %w", src.Name, err)
			}
		}
	}

	if _, err := c.Fetch.Policy(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if c.Scheduler.Enabled {
		d, err := time.ParseDuration(c.Scheduler.Interval)
		if err != nil {
			return fmt.Errorf("scheduler: invalid interval %q: %w", c.Scheduler.Interval, err)
		}

		if d <= 0 {
			return fmt.Errorf("scheduler: interval must be positive")
		}
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	return nil
}

// SchedulerInterval returns the parsed scheduler interval.
func (c *Config) SchedulerInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil {
		return 0
	}

	return d
}

// EnabledSources returns the names of sources that are enabled.
func (c *Config) EnabledSources() []string {
	names := make([]string, 0, len(c.Sources))

	for _, src := range c.Sources {
		if src.IsEnabled() {
			names = append(names, src.Name)
		}
	}

	return names
}

// validAdapters is the list of supported adapter kinds.
var validAdapters = map[string]struct{}{
	AdapterCommunica:     {},
	AdapterMicroRobotics: {},
	AdapterMock:          {},
}

// isValidAdapter checks if the given adapter kind is supported.
func isValidAdapter(adapter string) bool {
	_, ok := validAdapters[adapter]

	return ok
}
