// types.go - Typen der HTTP-API
// Enthaelt: StatusError, TranscribeRequest, TranscribeResponse, ShowResponse, VersionResponse
package api

import (
	"fmt"
	"time"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the moshi server logs for details"
	}
}

// TranscribeRequest carries the sampling options of /api/transcribe as
// query parameters. The audio itself is the request body: a WAV file when
// the content type is audio/wav, otherwise raw little endian float32 samples
// at 24 kHz.
type TranscribeRequest struct {
	Temperature *float32 `form:"temperature" json:"temperature,omitempty"`
	TopK        int      `form:"top_k" json:"top_k,omitempty"`
	TopP        float32  `form:"top_p" json:"top_p,omitempty"`
	Seed        *int64   `form:"seed" json:"seed,omitempty"`
}

// TranscribeResponse is one line of the NDJSON stream. Intermediate lines
// carry the pieces of one chunk; the last line has Done set and the full
// transcript.
type TranscribeResponse struct {
	Session string `json:"session"`
	Chunk   int    `json:"chunk"`
	Text    string `json:"text,omitempty"`

	Done       bool    `json:"done,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Metrics    Metrics `json:"metrics,omitzero"`
}

// Metrics enthaelt Laufzeit-Kennzahlen einer Transkription
type Metrics struct {
	TotalDuration time.Duration `json:"total_duration,omitempty"`
	InputFrames   int           `json:"input_frames,omitempty"`
	TextTokens    int           `json:"text_tokens,omitempty"`
	EncodeMean    time.Duration `json:"encode_mean,omitempty"`
	StepMean      time.Duration `json:"step_mean,omitempty"`
}

// Tensor describes one parameter of the loaded model.
type Tensor struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

type ShowResponse struct {
	Preset     string         `json:"preset"`
	ModelInfo  map[string]any `json:"model_info"`
	CodecInfo  map[string]any `json:"codec_info"`
	Parameters int64          `json:"parameters"`
	Tensors    []Tensor       `json:"tensors,omitempty"`
	VocabSize  int            `json:"vocab_size"`
}

type VersionResponse struct {
	Version string `json:"version"`
}
