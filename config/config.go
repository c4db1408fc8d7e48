// Package config loads client configuration from a YAML file and the
// environment. Environment variables override file values; all fields have
// working defaults so a bare endpoint is enough to get started.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by FromEnv.
const (
	EnvEndpoint             = "SYNDICATE_ENDPOINT"
	EnvToken                = "SYNDICATE_TOKEN"
	EnvCallTimeout          = "SYNDICATE_CALL_TIMEOUT"
	EnvPollInterval         = "SYNDICATE_POLL_INTERVAL"
	EnvReconnectMaxAttempts = "SYNDICATE_RECONNECT_MAX_ATTEMPTS"
)

// Config is the full client configuration surface.
type Config struct {
	// Endpoint is the server address (ws://, wss:// or amqp://).
	Endpoint string `yaml:"endpoint"`
	// Token is the credential presented on connect.
	Token string `yaml:"token"`

	// CallTimeout bounds each individual call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// PollInterval is the cadence between task status polls.
	PollInterval time.Duration `yaml:"poll_interval"`
	// TaskTimeout bounds one task wait as a whole.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls automatic reconnection.
type ReconnectConfig struct {
	// MaxAttempts bounds reconnect attempts after an unexpected closure.
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffCap caps the retry delay.
	BackoffCap time.Duration `yaml:"backoff_cap"`
}

// Default returns the configuration defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load parses a YAML config file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv overrides fields from the environment. A set but unparsable value
// is an error, not a silent fallback to the file or default.
func (c *Config) FromEnv() error {
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := os.Getenv(EnvCallTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvCallTimeout, err)
		}
		c.CallTimeout = d
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvPollInterval, err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv(EnvReconnectMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvReconnectMaxAttempts, err)
		}
		c.Reconnect.MaxAttempts = n
	}
	return nil
}

// Validate checks the configuration for use.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("config: endpoint is required")
	}
	if c.CallTimeout <= 0 {
		return errors.New("config: call_timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("config: poll_interval must be positive")
	}
	if c.Reconnect.BackoffBase > c.Reconnect.BackoffCap {
		return errors.New("config: reconnect backoff_base exceeds backoff_cap")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 5
	}
	if c.Reconnect.BackoffBase == 0 {
		c.Reconnect.BackoffBase = time.Second
	}
	if c.Reconnect.BackoffCap == 0 {
		c.Reconnect.BackoffCap = time.Minute
	}
}
