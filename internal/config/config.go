// =============================================================================
// BENCH CONFIGURATION - FILE LOADING, DEFAULTS, ENVIRONMENT OVERRIDES
// =============================================================================
//
// One Config describes a complete measurement run: the message schedule, who
// listens on which tag with which delay, how often the driving loop polls,
// which engines to compare, and where results and metrics go.
//
// FILE FORMATS (picked by extension):
//
//   .yaml / .yml   gopkg.in/yaml.v3
//   .toml          github.com/BurntSushi/toml
//
// PRECEDENCE (highest to lowest):
//   1. Command-line flags (applied by the CLI after Load)
//   2. Environment variables (TELEGRAPH_STORE_PATH, TELEGRAPH_METRICS_ADDR)
//   3. Config file
//   4. Default() values for anything the file leaves unset
//
// EXAMPLE (YAML):
//
//   workload:
//     duration: 5s
//     interval: 50ms
//     tags: [1, 2]
//     seed: 42
//   subscriptions:
//     - {listener: t1, tag: 1, delay: 100ms}
//     - {listener: t4, tag: 1, delay: 0s}
//   poll_interval: 100us
//   engines: [eventqueue, mailbox]
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Engine names accepted in Config.Engines.
const (
	EngineEventQueue = "eventqueue"
	EngineMailbox    = "mailbox"
)

// Environment variable names
const (
	EnvStorePath   = "TELEGRAPH_STORE_PATH"
	EnvMetricsAddr = "TELEGRAPH_METRICS_ADDR"
)

// ErrUnsupportedFormat is returned for config files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// =============================================================================
// CONFIGURATION STRUCTURES
// =============================================================================

// Config is the complete bench configuration.
type Config struct {
	Workload      WorkloadConfig `yaml:"workload" toml:"workload" json:"workload"`
	Subscriptions []Subscription `yaml:"subscriptions" toml:"subscriptions" json:"subscriptions"`

	// PollInterval is how often the driving loop calls Update()
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`

	// Engines to run over the same schedule, in order
	Engines []string `yaml:"engines" toml:"engines" json:"engines"`

	// Simulate drives a manual clock instead of the wall clock
	Simulate bool `yaml:"simulate" toml:"simulate" json:"simulate"`

	// MinScanInterval is passed to the mailbox engine (0 = disabled)
	MinScanInterval time.Duration `yaml:"min_scan_interval" toml:"min_scan_interval" json:"min_scan_interval"`

	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" json:"metrics"`
	Store   StoreConfig   `yaml:"store" toml:"store" json:"store"`
	Log     LogConfig     `yaml:"log" toml:"log" json:"log"`
}

// WorkloadConfig describes the dispatch schedule.
type WorkloadConfig struct {
	// Duration of the dispatch phase
	Duration time.Duration `yaml:"duration" toml:"duration" json:"duration"`

	// Interval between consecutive dispatches
	Interval time.Duration `yaml:"interval" toml:"interval" json:"interval"`

	// Tags to pick from, uniformly at random
	Tags []int `yaml:"tags" toml:"tags" json:"tags"`

	// Seed for the random source (0 = derive from time)
	Seed int64 `yaml:"seed" toml:"seed" json:"seed"`

	// Grace is how long to keep polling after the last dispatch
	Grace time.Duration `yaml:"grace" toml:"grace" json:"grace"`

	// Random, when set, generates subscriptions instead of reading them
	Random *RandomSubscriptions `yaml:"random,omitempty" toml:"random,omitempty" json:"random,omitempty"`
}

// RandomSubscriptions generates listeners with random tags and delays.
type RandomSubscriptions struct {
	Listeners        int           `yaml:"listeners" toml:"listeners" json:"listeners"`
	MaxSubscriptions int           `yaml:"max_subscriptions" toml:"max_subscriptions" json:"max_subscriptions"`
	MinDelay         time.Duration `yaml:"min_delay" toml:"min_delay" json:"min_delay"`
	MaxDelay         time.Duration `yaml:"max_delay" toml:"max_delay" json:"max_delay"`
}

// Subscription registers one listener on one tag.
type Subscription struct {
	Listener string        `yaml:"listener" toml:"listener" json:"listener"`
	Tag      int           `yaml:"tag" toml:"tag" json:"tag"`
	Delay    time.Duration `yaml:"delay" toml:"delay" json:"delay"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" toml:"addr" json:"addr"`
}

// StoreConfig controls result persistence. An empty Path disables it.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`

	// MaxRetries replays a write that hit a locked database (0 = default, <0 = never)
	MaxRetries int `yaml:"max_retries" toml:"max_retries" json:"max_retries"`

	// RetryBaseDelay is the first wait between replays; it doubles per replay
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" toml:"retry_base_delay" json:"retry_base_delay"`

	// RetryMaxDelay caps a single wait
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" toml:"retry_max_delay" json:"retry_max_delay"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the reference experiment: five seconds of dispatches every
// 50ms on tags 1 and 2, four listeners with a mix of zero and long delays.
func Default() *Config {
	return &Config{
		Workload: WorkloadConfig{
			Duration: 5 * time.Second,
			Interval: 50 * time.Millisecond,
			Tags:     []int{1, 2},
			Grace:    3 * time.Second,
		},
		Subscriptions: []Subscription{
			{Listener: "t1", Tag: 1, Delay: 100 * time.Millisecond},
			{Listener: "t3", Tag: 1, Delay: 200 * time.Millisecond},
			{Listener: "t4", Tag: 1, Delay: 0},
			{Listener: "t2", Tag: 2, Delay: 2000 * time.Millisecond},
			{Listener: "t3", Tag: 2, Delay: 1500 * time.Millisecond},
			{Listener: "t4", Tag: 2, Delay: 0},
		},
		PollInterval: 100 * time.Microsecond,
		Engines:      []string{EngineEventQueue, EngineMailbox},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Store: StoreConfig{
			MaxRetries:     3,
			RetryBaseDelay: 50 * time.Millisecond,
			RetryMaxDelay:  500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills every unset field from Default().
func (c *Config) applyDefaults() {
	def := Default()

	if c.Workload.Duration == 0 {
		c.Workload.Duration = def.Workload.Duration
	}
	if c.Workload.Interval == 0 {
		c.Workload.Interval = def.Workload.Interval
	}
	if len(c.Workload.Tags) == 0 {
		c.Workload.Tags = def.Workload.Tags
	}
	if c.Workload.Grace == 0 {
		c.Workload.Grace = def.Workload.Grace
	}
	if len(c.Subscriptions) == 0 && c.Workload.Random == nil {
		c.Subscriptions = def.Subscriptions
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if len(c.Engines) == 0 {
		c.Engines = def.Engines
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = def.Metrics.Addr
	}
	if c.Store.MaxRetries == 0 {
		c.Store.MaxRetries = def.Store.MaxRetries
	}
	if c.Store.RetryBaseDelay == 0 {
		c.Store.RetryBaseDelay = def.Store.RetryBaseDelay
	}
	if c.Store.RetryMaxDelay == 0 {
		c.Store.RetryMaxDelay = def.Store.RetryMaxDelay
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file at path, fills defaults and applies environment
// overrides. An empty path yields Default() plus environment overrides.
// The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		cfg = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
		cfg.applyDefaults()
	}

	cfg.applyEnv()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
}

// =============================================================================
// ENCODING
// =============================================================================

// Marshal encodes the config in the format implied by ext (".yaml" or ".toml").
func (c *Config) Marshal(ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", "yaml", "yml":
		return yaml.Marshal(c)
	case ".toml", "toml":
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(c); err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}
