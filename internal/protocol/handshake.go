package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrMalformedHandshake is returned when the first message is not JSON.
	ErrMalformedHandshake = errors.New("protocol: malformed handshake")
	// ErrInvalidHandshake is returned when the handshake JSON violates the schema.
	ErrInvalidHandshake = errors.New("protocol: invalid handshake")
)

const handshakeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["uid"],
  "properties": {
    "uid": {"type": "string", "minLength": 1},
    "language": {"type": ["string", "null"]},
    "task": {"enum": ["transcribe", "translate", null]},
    "model": {"type": ["string", "null"]},
    "use_vad": {"type": ["boolean", "null"]},
    "vad_parameters": {"type": ["object", "null"]},
    "initial_prompt": {"type": ["string", "null"]}
  }
}`

var compiledHandshake = jsonschema.MustCompileString("handshake.json", handshakeSchema)

// Task values
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// Options is the client's handshake. Absent or null fields decode to their
// zero value; UseVAD is nil when the client did not say.
type Options struct {
	UID           string         `json:"uid"`
	Language      string         `json:"language"`
	Task          string         `json:"task"`
	Model         string         `json:"model"`
	UseVAD        *bool          `json:"use_vad"`
	VADParameters map[string]any `json:"vad_parameters"`
	InitialPrompt string         `json:"initial_prompt"`
}

// VADEnabled applies the server default (enabled) when the client did not
// send use_vad.
func (o Options) VADEnabled() bool {
	if o.UseVAD == nil {
		return true
	}
	return *o.UseVAD
}

// ParseHandshake decodes and validates the first client message. The UID is
// returned alongside a validation error when it could be read, so the caller
// can address an ERROR reply.
func ParseHandshake(data []byte) (Options, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrMalformedHandshake, err)
	}

	var opts Options
	if err := json.Unmarshal(data, &opts); err != nil {
		// Valid JSON with wrongly typed fields; keep the uid if it decoded.
		if obj, ok := payload.(map[string]any); ok {
			opts.UID, _ = obj["uid"].(string)
		}
		if verr := compiledHandshake.Validate(payload); verr != nil {
			return Options{UID: opts.UID}, fmt.Errorf("%w: %v", ErrInvalidHandshake, verr)
		}
		return Options{UID: opts.UID}, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}

	if err := compiledHandshake.Validate(payload); err != nil {
		return Options{UID: opts.UID}, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}

	if opts.Task == "" {
		opts.Task = TaskTranscribe
	}
	return opts, nil
}
