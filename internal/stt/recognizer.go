package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// ErrWhisperUnavailable is returned for whisper mode when the binary was built
// without the whisper_cpp tag.
var ErrWhisperUnavailable = errors.New("whisper mode requires building with -tags whisper_cpp")

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer abstracts STT backends. It transcribes one complete utterance
// of 16-bit little-endian PCM.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (TranscriptResult, error)
}

// NewRecognizer builds the backend selected by cfg.Mode.
func NewRecognizer(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "whisper":
		return NewWhisperRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
