package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Errors for config management
var (
	ErrUnknownKey   = errors.New("unknown config key")
	ErrInvalidValue = errors.New("invalid config value")
)

// Setting is one addressable configuration value
type Setting struct {
	Key   string
	Value string
}

type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(ptr func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *ptr(c) },
		set: func(c *Config, v string) error {
			*ptr(c) = v
			return nil
		},
	}
}

func durationField(ptr func(*Config) *time.Duration) field {
	return field{
		get: func(c *Config) string { return ptr(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			*ptr(c) = d
			return nil
		},
	}
}

var fields = map[string]field{
	"server.addr": stringField(func(c *Config) *string { return &c.Server.Addr }),
	"server.allowed_origins": {
		get: func(c *Config) string { return strings.Join(c.Server.AllowedOrigins, ",") },
		set: func(c *Config, v string) error {
			var origins []string
			for _, o := range strings.Split(v, ",") {
				if o = strings.TrimSpace(o); o != "" {
					origins = append(origins, o)
				}
			}
			c.Server.AllowedOrigins = origins
			return nil
		},
	},
	"server.rate_limit.requests": {
		get: func(c *Config) string { return strconv.Itoa(c.Server.RateLimit.Requests) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			c.Server.RateLimit.Requests = n
			return nil
		},
	},
	"server.rate_limit.window": durationField(func(c *Config) *time.Duration { return &c.Server.RateLimit.Window }),
	"server.shutdown_timeout":  durationField(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout }),
	"paths.data_directory":     stringField(func(c *Config) *string { return &c.Paths.DataDirectory }),
	"transcode.ffmpeg_path":    stringField(func(c *Config) *string { return &c.Transcode.FFmpegPath }),
	"transcode.timeout":        durationField(func(c *Config) *time.Duration { return &c.Transcode.Timeout }),
	"egress.delete_delay":      durationField(func(c *Config) *time.Duration { return &c.Egress.DeleteDelay }),
	"egress.expire_after":      durationField(func(c *Config) *time.Duration { return &c.Egress.ExpireAfter }),
	"staging.max_age":          durationField(func(c *Config) *time.Duration { return &c.Staging.MaxAge }),
	"sweep.interval":           durationField(func(c *Config) *time.Duration { return &c.Sweep.Interval }),
	"logging.level":            stringField(func(c *Config) *string { return &c.Logging.Level }),
	"logging.format":           stringField(func(c *Config) *string { return &c.Logging.Format }),
}

// ConfigManager reads and updates individual settings of a config file
type ConfigManager struct {
	config     *Config
	configPath string
}

// NewConfigManager creates a new config manager
func NewConfigManager(cfg *Config, configPath string) *ConfigManager {
	return &ConfigManager{
		config:     cfg,
		configPath: configPath,
	}
}

// Keys returns every addressable setting key in sorted order
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List returns all settings in key order
func (m *ConfigManager) List() []Setting {
	keys := Keys()
	result := make([]Setting, 0, len(keys))
	for _, k := range keys {
		result = append(result, Setting{Key: k, Value: fields[k].get(m.config)})
	}
	return result
}

// Get returns the value of one setting
func (m *ConfigManager) Get(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return f.get(m.config), nil
}

// Set updates one setting, validates the result and saves the file.
// The in-memory config is left unchanged when validation fails.
func (m *ConfigManager) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	updated := *m.config
	updated.Server.AllowedOrigins = append([]string(nil), m.config.Server.AllowedOrigins...)
	if err := f.set(&updated, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	*m.config = updated
	return Save(m.config, m.configPath)
}
