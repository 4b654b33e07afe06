package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RetryConfig bounds the ledger's conditional-write retry loops.
type RetryConfig struct {
	MaxAttempts int `yaml:"maxAttempts,omitempty" validate:"omitempty,min=1,max=10"`
	BackoffMS   int `yaml:"backoffMS,omitempty" validate:"omitempty,min=1"`
}

// CancellationWindowConfig is the restricted-cancellation policy.
type CancellationWindowConfig struct {
	Hours float64 `yaml:"hours,omitempty" validate:"omitempty,min=0"`
	Mode  string  `yaml:"mode,omitempty" validate:"omitempty,oneof=flag block"`
}

// Config represents the application configuration.
type Config struct {
	DatabaseURL          string                   `yaml:"databaseURL,omitempty"`
	ListenAddr           string                   `yaml:"listenAddr,omitempty"`
	AdminToken           string                   `yaml:"adminToken,omitempty"`
	DefaultAttendanceCap int                      `yaml:"defaultAttendanceCap,omitempty" validate:"omitempty,min=1"`
	SessionTTLHours      int                      `yaml:"sessionTTLHours,omitempty" validate:"omitempty,min=1"`
	Retry                RetryConfig              `yaml:"retry,omitempty"`
	CancellationWindow   CancellationWindowConfig `yaml:"cancellationWindow,omitempty"`
	CompletionRSVPPolicy string                   `yaml:"completionRSVPPolicy,omitempty" validate:"omitempty,oneof=mark_attended leave_active"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration from rsvp_config.yaml.
// It looks for the config file in the current directory first, then in the
// user's home directory. A missing file yields the defaults, since every key
// has one and the connection settings can come from the environment.
func Load() (*Config, error) {
	configPath, err := findConfigFile()
	if err != nil {
		cfg := &Config{}
		cfg.applyDefaults()
		cfg.applyEnv()
		return cfg, nil
	}
	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration struct.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// SessionTTL returns the configured session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// RetryBackoff returns the configured base backoff between write attempts.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Retry.BackoffMS) * time.Millisecond
}

// WindowDuration returns the configured cancellation window.
func (c *Config) WindowDuration() time.Duration {
	return time.Duration(c.CancellationWindow.Hours * float64(time.Hour))
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DefaultAttendanceCap == 0 {
		c.DefaultAttendanceCap = 15
	}
	if c.SessionTTLHours == 0 {
		c.SessionTTLHours = 24
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 4
	}
	if c.Retry.BackoffMS == 0 {
		c.Retry.BackoffMS = 25
	}
	if c.CancellationWindow.Hours == 0 {
		c.CancellationWindow.Hours = 24
	}
	if c.CancellationWindow.Mode == "" {
		c.CancellationWindow.Mode = "flag"
	}
	if c.CompletionRSVPPolicy == "" {
		c.CompletionRSVPPolicy = "mark_attended"
	}
}

// applyEnv lets deployment environments override connection settings without
// editing the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.AdminToken = v
	}
}

// findConfigFile searches for rsvp_config.yaml in the current directory and
// the home directory.
func findConfigFile() (string, error) {
	configFileName := "rsvp_config.yaml"

	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homeConfigPath := filepath.Join(homeDir, configFileName)
	if _, err := os.Stat(homeConfigPath); err == nil {
		return homeConfigPath, nil
	}

	return "", fmt.Errorf("config file not found in current directory or home directory")
}
