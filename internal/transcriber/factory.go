package transcriber

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/raihanakbr/live-transcription-server/internal/config"
)

// ModelError reports a requested model outside the configured set. Its
// message is sent verbatim to the client.
type ModelError struct {
	Model   string
	Choices []string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("Invalid model size %s. Available choices: [%s]", e.Model, strings.Join(e.Choices, ", "))
}

func (e *ModelError) Unwrap() error {
	return ErrInvalidModel
}

// BuildFunc constructs a transcriber for one model name.
type BuildFunc func(model string) (Transcriber, error)

// Factory hands out transcribers to sessions. In single model mode every
// session receives a handle onto one shared, serialized instance.
type Factory struct {
	cfg    config.TranscriberConfig
	log    *slog.Logger
	build  BuildFunc
	shared *Shared

	closeOnce sync.Once
	closeErr  error
}

// NewFactory creates a factory for the configured backend.
func NewFactory(cfg config.TranscriberConfig, sampleRate int, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "transcriber", "backend", cfg.Backend)

	var build BuildFunc
	switch cfg.Backend {
	case config.BackendWhisperHTTP:
		build = func(model string) (Transcriber, error) {
			return NewHTTP(HTTPConfig{
				Endpoint:   cfg.Endpoint,
				APIKey:     cfg.APIKey,
				Model:      model,
				Timeout:    cfg.GetTimeout(),
				SampleRate: sampleRate,
			}, logger)
		}
	case config.BackendStub:
		build = func(model string) (Transcriber, error) {
			return NewStub(logger, model, sampleRate), nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	return newFactory(cfg, log, build)
}

// NewFactoryWithBuilder creates a factory around a custom constructor.
func NewFactoryWithBuilder(cfg config.TranscriberConfig, logger *slog.Logger, build BuildFunc) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return newFactory(cfg, logger.With("component", "transcriber"), build)
}

func newFactory(cfg config.TranscriberConfig, log *slog.Logger, build BuildFunc) (*Factory, error) {
	f := &Factory{cfg: cfg, log: log, build: build}
	if cfg.SingleModel && cfg.ModelPath != "" {
		log.Info("custom model provided, switching to single model mode", "model_path", cfg.ModelPath)
		inner, err := build(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load shared model %s: %w", cfg.ModelPath, err)
		}
		f.shared = NewShared(inner)
	}
	return f, nil
}

// Backend returns the configured backend name.
func (f *Factory) Backend() string {
	return f.cfg.Backend
}

// Models returns the model names clients may request.
func (f *Factory) Models() []string {
	return slices.Clone(f.cfg.Models)
}

// ResolveModel maps a requested model to the one that will be loaded. A
// configured model path overrides the request; an empty request selects the
// default model.
func (f *Factory) ResolveModel(requested string) (string, error) {
	if f.cfg.ModelPath != "" {
		return f.cfg.ModelPath, nil
	}
	if requested == "" {
		return f.cfg.DefaultModel, nil
	}
	if !slices.Contains(f.cfg.Models, requested) {
		return "", &ModelError{Model: requested, Choices: f.Models()}
	}
	return requested, nil
}

// Language returns the decoding language for model. English-only models
// force "en"; otherwise the requested language or the configured default.
func (f *Factory) Language(model, requested string) string {
	if strings.HasSuffix(model, "en") {
		return "en"
	}
	if requested != "" {
		return requested
	}
	return f.cfg.DefaultLanguage
}

// ForSession returns a transcriber for one session. The caller closes it
// when the session ends.
func (f *Factory) ForSession(model string) (Transcriber, error) {
	if f.shared != nil {
		return f.shared.Handle(), nil
	}
	t, err := f.build(model)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", model, err)
	}
	return t, nil
}

// Close releases the shared model, if any.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		if f.shared != nil {
			f.closeErr = f.shared.Close()
		}
	})
	return f.closeErr
}
