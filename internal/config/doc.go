// Package config provides configuration loading and validation for the live
// transcription server. Values come from an optional YAML file, then from
// LIVE_* environment variables (optionally sourced from .env files).
package config
