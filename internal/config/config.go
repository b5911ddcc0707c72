package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file configuration
const (
	EnvAPIURL   = "DENOISE_API_URL"
	EnvLogLevel = "DENOISE_LOG_LEVEL"
)

// DefaultBaseURL is the local development endpoint of the processing service
const DefaultBaseURL = "http://localhost:5000/api"

// Config represents the complete client configuration
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	HTTP     HTTPConfig     `yaml:"http"`
	Playback PlaybackConfig `yaml:"playback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig contains processing service configuration
type ServiceConfig struct {
	BaseURL   string `yaml:"base_url"`
	Timeout   int    `yaml:"timeout"` // seconds, 0 disables
	UserAgent string `yaml:"user_agent"`
}

// HTTPConfig contains the collaborator API server configuration
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	Address        string   `yaml:"address"`
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// PlaybackConfig contains playback handle limits
type PlaybackConfig struct {
	MaxBytes int64 `yaml:"max_bytes"` // 0 disables the cap
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:   DefaultBaseURL,
			Timeout:   0,
			UserAgent: "denoise-client/1.0",
		},
		HTTP: HTTPConfig{
			Port:           8080,
			Address:        "127.0.0.1",
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			MaxUploadMB:    16,
		},
		Playback: PlaybackConfig{
			MaxBytes: 256 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if path
// is not empty) and the environment, then validates it. It is resolved once
// at startup and not modified afterwards.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Missing files are ignored; existing variables are
// not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.Service.BaseURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := c.Service.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("service config: %w", err))
	}

	if err := c.HTTP.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("http config: %w", err))
	}

	if err := c.Playback.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("playback config: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("logging config: %w", err))
	}

	return result.ErrorOrNil()
}

// Validate validates processing service configuration
func (s *ServiceConfig) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must use http or https, got '%s'", s.BaseURL)
	}

	if u.Host == "" {
		return fmt.Errorf("base_url must include a host, got '%s'", s.BaseURL)
	}

	if s.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", s.Timeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty when HTTP is enabled")
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	if p.MaxBytes < 0 {
		return fmt.Errorf("max_bytes cannot be negative, got %d", p.MaxBytes)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json', 'text' or 'console', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the service timeout as a time.Duration
func (s *ServiceConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetMaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}

// ListenAddress returns the address the HTTP server binds to
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
