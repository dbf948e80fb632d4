// Package config loads the offline layer configuration from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIELDCOUNT_"

// Duration is a time.Duration written as "30s", "15m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration.
type Config struct {
	DataDir   string    `yaml:"data_dir"`
	Remote    Remote    `yaml:"remote"`
	Sync      Sync      `yaml:"sync"`
	Cache     Cache     `yaml:"cache"`
	Capture   Capture   `yaml:"capture"`
	Logging   Logging   `yaml:"logging"`
	Telemetry Telemetry `yaml:"telemetry"`
	Desktop   Desktop   `yaml:"desktop"`
}

// Remote configures the Remote API client.
type Remote struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"` // zero leaves the transport default
}

// Sync configures the coordinator and retry scheduler.
type Sync struct {
	RetryInterval   Duration `yaml:"retry_interval"`
	DispatchTimeout Duration `yaml:"dispatch_timeout"`
	MaxPending      int      `yaml:"max_pending"`
	ProbeInterval   Duration `yaml:"probe_interval"`
}

// Cache configures the response cache staleness policy.
type Cache struct {
	MaxAge Duration `yaml:"max_age"` // zero means cached reads never go stale
}

// Capture configures the barcode capture engine.
type Capture struct {
	SnapshotURL   string   `yaml:"snapshot_url"`
	FrameInterval Duration `yaml:"frame_interval"`
	Cooldown      Duration `yaml:"cooldown"`
	Continuous    bool     `yaml:"continuous"`
	MaxFrameWidth int      `yaml:"max_frame_width"`
}

// Logging configures the global logger.
type Logging struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // stdout or stderr
}

// Telemetry configures opt-in metrics.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
}

// Desktop configures the local desktop bridge.
type Desktop struct {
	Addr string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Remote: Remote{
			BaseURL: "http://localhost:8080/api",
		},
		Sync: Sync{
			RetryInterval: Duration(time.Minute),
			MaxPending:    10000,
			ProbeInterval: Duration(15 * time.Second),
		},
		Cache: Cache{
			MaxAge: Duration(24 * time.Hour),
		},
		Capture: Capture{
			FrameInterval: Duration(time.Second / 30),
			Cooldown:      Duration(1500 * time.Millisecond),
			MaxFrameWidth: 640,
		},
		Logging: Logging{
			Level:  "info",
			Output: "stdout",
		},
		Desktop: Desktop{
			Addr: "localhost:8090",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from FIELDCOUNT_* variables. DB_PATH is honoured for the data dir.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		c.DataDir = v
	}

	str := map[string]*string{
		"DATA_DIR":     &c.DataDir,
		"REMOTE_URL":   &c.Remote.BaseURL,
		"SNAPSHOT_URL": &c.Capture.SnapshotURL,
		"LOG_LEVEL":    &c.Logging.Level,
		"LOG_OUTPUT":   &c.Logging.Output,
		"DESKTOP_ADDR": &c.Desktop.Addr,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"REMOTE_TIMEOUT":   &c.Remote.Timeout,
		"RETRY_INTERVAL":   &c.Sync.RetryInterval,
		"DISPATCH_TIMEOUT": &c.Sync.DispatchTimeout,
		"CACHE_MAX_AGE":    &c.Cache.MaxAge,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = Duration(d)
	}

	if v, ok := lookup(EnvPrefix + "TELEMETRY"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sTELEMETRY: %w", EnvPrefix, err)
		}
		c.Telemetry.Enabled = enabled
	}
	if v, ok := lookup(EnvPrefix + "MAX_PENDING"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_PENDING: %w", EnvPrefix, err)
		}
		c.Sync.MaxPending = n
	}
	return nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	var problems []string

	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.Remote.BaseURL == "" {
		problems = append(problems, "remote.base_url is required")
	}
	if c.Remote.Timeout < 0 || c.Sync.DispatchTimeout < 0 {
		problems = append(problems, "timeouts must not be negative")
	}
	if c.Sync.MaxPending < 0 {
		problems = append(problems, "sync.max_pending must not be negative")
	}
	if c.Cache.MaxAge < 0 {
		problems = append(problems, "cache.max_age must not be negative")
	}
	if c.Capture.FrameInterval <= 0 {
		problems = append(problems, "capture.frame_interval must be positive")
	}
	if c.Capture.Cooldown < 0 {
		problems = append(problems, "capture.cooldown must not be negative")
	}
	if c.Logging.Output != "" && c.Logging.Output != "stdout" && c.Logging.Output != "stderr" {
		problems = append(problems, "logging.output must be stdout or stderr")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
