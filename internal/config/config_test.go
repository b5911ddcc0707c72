package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	config := Default()

	require.NoError(t, config.Validate())
	assert.Equal(t, DefaultBaseURL, config.Service.BaseURL)
	assert.Equal(t, time.Duration(0), config.Service.GetTimeoutDuration())
	assert.Equal(t, int64(16<<20), config.HTTP.GetMaxUploadBytes())
	assert.Equal(t, "127.0.0.1:8080", config.HTTP.ListenAddress())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "empty base url",
			mutate:   func(c *Config) { c.Service.BaseURL = "" },
			errorMsg: "base_url cannot be empty",
		},
		{
			name:     "unsupported scheme",
			mutate:   func(c *Config) { c.Service.BaseURL = "ftp://files.example.com" },
			errorMsg: "must use http or https",
		},
		{
			name:     "missing host",
			mutate:   func(c *Config) { c.Service.BaseURL = "http:///api" },
			errorMsg: "must include a host",
		},
		{
			name:     "negative timeout",
			mutate:   func(c *Config) { c.Service.Timeout = -1 },
			errorMsg: "timeout cannot be negative",
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.HTTP.Port = 70000 },
			errorMsg: "http port must be between 1 and 65535",
		},
		{
			name: "disabled http skips checks",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:     "negative playback cap",
			mutate:   func(c *Config) { c.Playback.MaxBytes = -5 },
			errorMsg: "max_bytes cannot be negative",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "verbose" },
			errorMsg: "level must be one of",
		},
		{
			name:     "invalid log format",
			mutate:   func(c *Config) { c.Logging.Format = "xml" },
			errorMsg: "format must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errorMsg)
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	config := Default()
	config.Service.BaseURL = ""
	config.Logging.Level = "loud"

	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service config")
	assert.Contains(t, err.Error(), "logging config")
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
service:
  base_url: "http://denoise.internal:5000/api"
  timeout: 30

http:
  port: 9090
  address: "0.0.0.0"
  enabled: true
  allowed_origins: ["http://localhost:3000"]
  max_upload_mb: 32

logging:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))
	t.Setenv(EnvAPIURL, "")

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://denoise.internal:5000/api", config.Service.BaseURL)
	assert.Equal(t, 30*time.Second, config.Service.GetTimeoutDuration())
	assert.Equal(t, 9090, config.HTTP.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, config.HTTP.AllowedOrigins)
	assert.Equal(t, int64(32<<20), config.HTTP.GetMaxUploadBytes())
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)

	// Unset keys keep defaults
	assert.Equal(t, "stderr", config.Logging.Output)
	assert.Equal(t, int64(256<<20), config.Playback.MaxBytes)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, config.Service.BaseURL)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://denoise.example.com/api")
	t.Setenv(EnvLogLevel, "warn")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://denoise.example.com/api", config.Service.BaseURL)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("/non/existent/config.yaml")
	assert.ErrorContains(t, err, "failed to read config file")

	tmpDir := t.TempDir()
	badYAML := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(badYAML, []byte("service: [unclosed"), 0644))

	_, err = Load(badYAML)
	assert.ErrorContains(t, err, "failed to parse config file")

	invalid := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("logging:\n  level: chatty\n"), 0644))

	_, err = Load(invalid)
	assert.ErrorContains(t, err, "config validation failed")
}

func TestLoadDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(EnvAPIURL+"=http://from-dotenv:5000/api\n"), 0644))

	t.Setenv(EnvAPIURL, "")
	os.Unsetenv(EnvAPIURL)

	require.NoError(t, LoadDotEnv(envPath, filepath.Join(tmpDir, "missing.env")))
	assert.Equal(t, "http://from-dotenv:5000/api", os.Getenv(EnvAPIURL))
}
