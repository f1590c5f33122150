package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Environment variables that override file values
const (
	EnvPort    = "PORT"
	EnvLogLvl  = "LOG_LEVEL"
	EnvDataDir = "AUDIO_DATA_DIR"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Paths     PathsConfig     `yaml:"paths"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Egress    EgressConfig    `yaml:"egress"`
	Staging   StagingConfig   `yaml:"staging"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Addr            string          `yaml:"addr"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// RateLimitConfig bounds upload and convert requests per client IP
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// PathsConfig contains the data directory holding staging and egress
type PathsConfig struct {
	DataDirectory string `yaml:"data_directory"`
}

// TranscodeConfig contains ffmpeg settings
type TranscodeConfig struct {
	FFmpegPath string        `yaml:"ffmpeg_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

// EgressConfig controls how long artifacts are kept
type EgressConfig struct {
	DeleteDelay time.Duration `yaml:"delete_delay"`
	ExpireAfter time.Duration `yaml:"expire_after"`
}

// StagingConfig controls how long unconverted uploads are kept
type StagingConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

// SweepConfig controls the background janitor
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when no file is present
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5001",
			AllowedOrigins:  []string{"*"},
			RateLimit:       RateLimitConfig{Requests: 120, Window: time.Minute},
			ShutdownTimeout: 10 * time.Second,
		},
		Paths:     PathsConfig{DataDirectory: "./data"},
		Transcode: TranscodeConfig{FFmpegPath: "ffmpeg", Timeout: 30 * time.Minute},
		Egress:    EgressConfig{DeleteDelay: time.Second, ExpireAfter: 15 * time.Minute},
		Staging:   StagingConfig{MaxAge: time.Hour},
		Sweep:     SweepConfig{Interval: time.Minute},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads and parses the configuration from the specified YAML file.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	return nil, err
}

// Save writes the configuration to the specified YAML file
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides file values from the environment
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if port := strings.TrimSpace(getenv(EnvPort)); port != "" {
		host := ""
		if h, _, err := net.SplitHostPort(c.Server.Addr); err == nil {
			host = h
		}
		c.Server.Addr = net.JoinHostPort(host, port)
	}
	if lvl := strings.TrimSpace(getenv(EnvLogLvl)); lvl != "" {
		c.Logging.Level = lvl
	}
	if dir := strings.TrimSpace(getenv(EnvDataDir)); dir != "" {
		c.Paths.DataDirectory = dir
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr is required")
	} else if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		problems = append(problems, fmt.Sprintf("server.addr %q: %v", c.Server.Addr, err))
	}
	if strings.TrimSpace(c.Paths.DataDirectory) == "" {
		problems = append(problems, "paths.data_directory is required")
	}
	if strings.TrimSpace(c.Transcode.FFmpegPath) == "" {
		problems = append(problems, "transcode.ffmpeg_path is required")
	}
	if c.Server.RateLimit.Requests < 0 {
		problems = append(problems, "server.rate_limit.requests must not be negative")
	}
	if c.Egress.DeleteDelay < 0 {
		problems = append(problems, "egress.delete_delay must not be negative")
	}

	positive := []struct {
		key string
		d   time.Duration
	}{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"transcode.timeout", c.Transcode.Timeout},
		{"egress.expire_after", c.Egress.ExpireAfter},
		{"staging.max_age", c.Staging.MaxAge},
		{"sweep.interval", c.Sweep.Interval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			problems = append(problems, p.key+" must be positive")
		}
	}
	if c.Server.RateLimit.Requests > 0 && c.Server.RateLimit.Window <= 0 {
		problems = append(problems, "server.rate_limit.window must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// StagingDir returns the directory holding uploads waiting for conversion
func (c *Config) StagingDir() string {
	return filepath.Join(c.Paths.DataDirectory, "uploads")
}

// OutputDir returns the directory holding converted artifacts
func (c *Config) OutputDir() string {
	return filepath.Join(c.Paths.DataDirectory, "outputs")
}
