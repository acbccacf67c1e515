package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default values for the reference deployment.
const (
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultGatePollInterval = 30 * time.Second
	DefaultOperatorBasePath = "super-admin"
)

// Config holds everything the session core needs from its environment.
// Values come from an optional YAML file overridden by environment variables;
// anything unset falls back to the reference-deployment defaults.
type Config struct {
	// APIBaseURL is the versioned API root, e.g. "https://api.example.com/api/v1".
	APIBaseURL string

	// OperatorBasePath is the fixed partition prefix for operator calls.
	OperatorBasePath string

	// StateFile is where the credential store persists session state.
	StateFile string

	IdleTimeout      time.Duration
	GatePollInterval time.Duration
}

// fileConfig is the YAML shape; durations are written as strings ("30m").
type fileConfig struct {
	APIBaseURL       string `yaml:"api_base_url"`
	OperatorBasePath string `yaml:"operator_base_path"`
	StateFile        string `yaml:"state_file"`
	IdleTimeout      string `yaml:"idle_timeout"`
	GatePollInterval string `yaml:"gate_poll_interval"`
}

// New returns a Config built from environment variables alone.
func New() Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// Load reads a YAML config file and applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "[config.Load] read file")
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, errors.Wrap(err, "[config.Load] parse yaml")
	}

	if fc.APIBaseURL != "" {
		cfg.APIBaseURL = fc.APIBaseURL
	}
	if fc.OperatorBasePath != "" {
		cfg.OperatorBasePath = fc.OperatorBasePath
	}
	if fc.StateFile != "" {
		cfg.StateFile = fc.StateFile
	}
	if fc.IdleTimeout != "" {
		d, err := time.ParseDuration(fc.IdleTimeout)
		if err != nil {
			return Config{}, errors.Wrap(err, "[config.Load] parse idle_timeout")
		}
		cfg.IdleTimeout = d
	}
	if fc.GatePollInterval != "" {
		d, err := time.ParseDuration(fc.GatePollInterval)
		if err != nil {
			return Config{}, errors.Wrap(err, "[config.Load] parse gate_poll_interval")
		}
		cfg.GatePollInterval = d
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() Config {
	return Config{
		APIBaseURL:       "http://localhost:8000/api/v1",
		OperatorBasePath: DefaultOperatorBasePath,
		StateFile:        "./data/session.json",
		IdleTimeout:      DefaultIdleTimeout,
		GatePollInterval: DefaultGatePollInterval,
	}
}

func (c *Config) applyEnv() {
	c.APIBaseURL = GetEnv("API_BASE_URL", c.APIBaseURL)
	c.OperatorBasePath = GetEnv("OPERATOR_BASE_PATH", c.OperatorBasePath)
	c.StateFile = GetEnv("SESSION_STATE_FILE", c.StateFile)

	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.IdleTimeout = d
		}
	}
	if v := os.Getenv("GATE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GatePollInterval = d
		}
	}
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
