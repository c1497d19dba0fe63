package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in transcriber.backend
const (
	BackendWhisperHTTP = "whisper_http"
	BackendStub        = "stub"
)

// Config represents the complete server configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains websocket server and admission configuration
type ServerConfig struct {
	Address           string  `yaml:"address"`
	MaxClients        int     `yaml:"max_clients"`
	MaxConnectionTime int     `yaml:"max_connection_time"` // seconds
	HandshakeTimeout  float64 `yaml:"handshake_timeout"`   // seconds
	WriteTimeout      float64 `yaml:"write_timeout"`       // seconds
	SweepInterval     float64 `yaml:"sweep_interval"`      // seconds
}

// SessionConfig contains the streaming engine tunables. Zero values are
// replaced by defaults in applyDefaults.
type SessionConfig struct {
	MaxWindowSeconds          float64 `yaml:"max_window_seconds"`
	TrimSeconds               float64 `yaml:"trim_seconds"`
	StallSeconds              float64 `yaml:"stall_seconds"`
	StallRewindSeconds        float64 `yaml:"stall_rewind_seconds"`
	NoSpeechThreshold         float64 `yaml:"no_speech_threshold"`
	RepeatThreshold           int     `yaml:"repeat_threshold"`
	SendLastN                 int     `yaml:"send_last_n"`
	ShowPreviousOutputSeconds float64 `yaml:"show_previous_output_seconds"`
	AddPauseSeconds           float64 `yaml:"add_pause_seconds"`
	MinChunkSeconds           float64 `yaml:"min_chunk_seconds"`
	PollIntervalMs            int     `yaml:"poll_interval_ms"`
	NoResultBackoffMs         int     `yaml:"no_result_backoff_ms"`
	ErrorBackoffMs            int     `yaml:"error_backoff_ms"`
}

// TranscriberConfig selects and configures the speech recognition backend
type TranscriberConfig struct {
	Backend         string   `yaml:"backend"`
	Endpoint        string   `yaml:"endpoint"`
	APIKey          string   `yaml:"api_key"`
	Timeout         int      `yaml:"timeout"` // seconds
	Models          []string `yaml:"models"`
	DefaultModel    string   `yaml:"default_model"`
	ModelPath       string   `yaml:"model_path"`
	SingleModel     bool     `yaml:"single_model"`
	DefaultLanguage string   `yaml:"default_language"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads the optional YAML file at path, applies defaults, environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	return Loader{}.Load(path)
}

func parseFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	s := &c.Server
	if s.Address == "" {
		s.Address = ":9090"
	}
	if s.MaxClients == 0 {
		s.MaxClients = 4
	}
	if s.MaxConnectionTime == 0 {
		s.MaxConnectionTime = 600
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = 10
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 5
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = 1
	}

	ss := &c.Session
	setFloat(&ss.MaxWindowSeconds, 45)
	setFloat(&ss.TrimSeconds, 30)
	setFloat(&ss.StallSeconds, 25)
	setFloat(&ss.StallRewindSeconds, 5)
	setFloat(&ss.NoSpeechThreshold, 0.45)
	setFloat(&ss.ShowPreviousOutputSeconds, 5)
	setFloat(&ss.AddPauseSeconds, 3)
	setFloat(&ss.MinChunkSeconds, 1.0)
	setInt(&ss.RepeatThreshold, 5)
	setInt(&ss.SendLastN, 10)
	setInt(&ss.PollIntervalMs, 100)
	setInt(&ss.NoResultBackoffMs, 250)
	setInt(&ss.ErrorBackoffMs, 10)

	t := &c.Transcriber
	if t.Backend == "" {
		t.Backend = BackendWhisperHTTP
	}
	if t.Timeout == 0 {
		t.Timeout = 30
	}
	if len(t.Models) == 0 {
		t.Models = []string{"small.en", "base.en", "medium.en"}
	}
	if t.DefaultModel == "" {
		t.DefaultModel = "base.en"
	}
	if t.DefaultLanguage == "" {
		t.DefaultLanguage = "en"
	}

	l := &c.Logging
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Output == "" {
		l.Output = "stdout"
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// Validate performs validation of the whole configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Transcriber.Validate(); err != nil {
		return fmt.Errorf("transcriber config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if s.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1, got %d", s.MaxClients)
	}
	if s.MaxConnectionTime < 1 {
		return fmt.Errorf("max_connection_time must be at least 1 second, got %d", s.MaxConnectionTime)
	}
	if s.HandshakeTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %f", s.SweepInterval)
	}
	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.TrimSeconds <= 0 || s.TrimSeconds > s.MaxWindowSeconds {
		return fmt.Errorf("trim_seconds (%f) must be in (0, max_window_seconds=%f]", s.TrimSeconds, s.MaxWindowSeconds)
	}
	if s.StallRewindSeconds <= 0 || s.StallRewindSeconds >= s.StallSeconds {
		return fmt.Errorf("stall_rewind_seconds (%f) must be positive and below stall_seconds (%f)",
			s.StallRewindSeconds, s.StallSeconds)
	}
	if s.NoSpeechThreshold < 0 || s.NoSpeechThreshold > 1 {
		return fmt.Errorf("no_speech_threshold must be between 0 and 1, got %f", s.NoSpeechThreshold)
	}
	if s.RepeatThreshold < 1 {
		return fmt.Errorf("repeat_threshold must be at least 1, got %d", s.RepeatThreshold)
	}
	if s.SendLastN < 1 {
		return fmt.Errorf("send_last_n must be at least 1, got %d", s.SendLastN)
	}
	if s.MinChunkSeconds <= 0 {
		return fmt.Errorf("min_chunk_seconds must be positive, got %f", s.MinChunkSeconds)
	}
	if s.PollIntervalMs < 1 || s.NoResultBackoffMs < 1 || s.ErrorBackoffMs < 1 {
		return fmt.Errorf("poll and backoff intervals must be at least 1ms")
	}
	return nil
}

// Validate validates transcriber configuration
func (t *TranscriberConfig) Validate() error {
	switch t.Backend {
	case BackendWhisperHTTP:
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for backend %s", t.Backend)
		}
	case BackendStub:
	default:
		return fmt.Errorf("backend must be one of [%s, %s], got '%s'", BackendWhisperHTTP, BackendStub, t.Backend)
	}
	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}
	if t.SingleModel && t.ModelPath == "" {
		return fmt.Errorf("single_model requires model_path")
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

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// GetMaxConnectionTime returns the session lifetime as a time.Duration
func (s *ServerConfig) GetMaxConnectionTime() time.Duration {
	return time.Duration(s.MaxConnectionTime) * time.Second
}

// GetHandshakeTimeout returns the handshake read timeout as a time.Duration
func (s *ServerConfig) GetHandshakeTimeout() time.Duration {
	return seconds(s.HandshakeTimeout)
}

// GetWriteTimeout returns the per-message write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return seconds(s.WriteTimeout)
}

// GetSweepInterval returns the lifetime reaper period as a time.Duration
func (s *ServerConfig) GetSweepInterval() time.Duration {
	return seconds(s.SweepInterval)
}

// GetTimeout returns the transcription request timeout as a time.Duration
func (t *TranscriberConfig) GetTimeout() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
