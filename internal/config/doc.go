// Package config loads, validates, and normalizes TOML configuration.
package config
