package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables overriding file values
const (
	EnvAddr              = "LIVE_ADDR"
	EnvMaxClients        = "LIVE_MAX_CLIENTS"
	EnvMaxConnectionTime = "LIVE_MAX_CONNECTION_TIME"
	EnvBackend           = "LIVE_BACKEND"
	EnvWhisperEndpoint   = "LIVE_WHISPER_ENDPOINT"
	EnvWhisperAPIKey     = "LIVE_WHISPER_API_KEY"
	EnvModelPath         = "LIVE_MODEL_PATH"
	EnvSingleModel       = "LIVE_SINGLE_MODEL"
	EnvLogLevel          = "LIVE_LOG_LEVEL"
	EnvLogFormat         = "LIVE_LOG_FORMAT"
)

// Loader builds a Config from a YAML file and the environment. Tests can
// override Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
	// EnvFiles are passed to godotenv before overrides are read. Missing
	// files are ignored.
	EnvFiles []string
}

// Load reads the file at path (optional), applies defaults and overrides, and
// validates the result.
func (l Loader) Load(path string) (*Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	for _, f := range l.EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("config: load env file %s: %w", f, err)
		}
	}

	var cfg Config
	if path != "" {
		if err := parseFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()

	if err := l.applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l Loader) applyEnv(cfg *Config) error {
	overrideString(l.Lookup, EnvAddr, &cfg.Server.Address)
	overrideString(l.Lookup, EnvBackend, &cfg.Transcriber.Backend)
	overrideString(l.Lookup, EnvWhisperEndpoint, &cfg.Transcriber.Endpoint)
	overrideString(l.Lookup, EnvWhisperAPIKey, &cfg.Transcriber.APIKey)
	overrideString(l.Lookup, EnvModelPath, &cfg.Transcriber.ModelPath)
	overrideString(l.Lookup, EnvLogLevel, &cfg.Logging.Level)
	overrideString(l.Lookup, EnvLogFormat, &cfg.Logging.Format)

	if err := overrideInt(l.Lookup, EnvMaxClients, &cfg.Server.MaxClients); err != nil {
		return err
	}
	if err := overrideInt(l.Lookup, EnvMaxConnectionTime, &cfg.Server.MaxConnectionTime); err != nil {
		return err
	}
	if value, ok := lookupTrimmed(l.Lookup, EnvSingleModel); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvSingleModel, err)
		}
		cfg.Transcriber.SingleModel = b
	}
	return nil
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookupTrimmed(lookup, key); ok {
		*target = value
	}
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = n
	return nil
}
