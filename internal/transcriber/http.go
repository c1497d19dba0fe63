package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	transcriptionsPath = "/v1/audio/transcriptions"
	translationsPath   = "/v1/audio/translations"
	maxErrorBody       = 512
)

// HTTPConfig configures a Whisper-compatible HTTP backend.
type HTTPConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	SampleRate int
}

// HTTPTranscriber sends chunks to an OpenAI-compatible audio transcription
// endpoint (faster-whisper-server, speaches, whisper.cpp server) and parses
// the verbose_json response.
type HTTPTranscriber struct {
	cfg    HTTPConfig
	client *http.Client
	log    *slog.Logger
}

type verboseResponse struct {
	Language string           `json:"language"`
	Text     string           `json:"text"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// NewHTTP creates an HTTP backend for the given model.
func NewHTTP(cfg HTTPConfig, logger *slog.Logger) (*HTTPTranscriber, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("whisper endpoint cannot be empty")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTranscriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.With("component", "transcriber.http", "model", cfg.Model),
	}, nil
}

// Transcribe implements the Transcriber interface.
func (h *HTTPTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) ([]RawSegment, error) {
	if len(samples) == 0 {
		return nil, ErrNoResult
	}

	wav, err := EncodeWAV(samples, h.cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	body, contentType, err := h.buildForm(wav, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}

	path := transcriptionsPath
	if opts.Task == "translate" {
		path = translationsPath
	}
	url := strings.TrimRight(h.cfg.Endpoint, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoResult
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("transcription request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	segments := make([]RawSegment, 0, len(decoded.Segments))
	for _, s := range decoded.Segments {
		segments = append(segments, RawSegment{
			Start:        s.Start,
			End:          s.End,
			Text:         s.Text,
			NoSpeechProb: s.NoSpeechProb,
		})
	}

	h.log.Debug("transcription completed",
		"samples", len(samples),
		"segments", len(segments),
		"language", decoded.Language,
		"elapsed", time.Since(start))
	return segments, nil
}

func (h *HTTPTranscriber) buildForm(wav []byte, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"model":           h.cfg.Model,
		"response_format": "verbose_json",
		"vad_filter":      strconv.FormatBool(opts.UseVAD),
	}
	if opts.Language != "" && opts.Task != "translate" {
		fields["language"] = opts.Language
	}
	if opts.InitialPrompt != "" {
		fields["prompt"] = opts.InitialPrompt
	}
	if opts.UseVAD && len(opts.VADParameters) > 0 {
		params, err := json.Marshal(opts.VADParameters)
		if err != nil {
			return nil, "", fmt.Errorf("invalid vad parameters: %w", err)
		}
		fields["vad_parameters"] = string(params)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Close implements the Transcriber interface.
func (h *HTTPTranscriber) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
