// Package config loads the client configuration from defaults, an optional YAML
// file, .env files and environment variables, and validates every section.
package config
