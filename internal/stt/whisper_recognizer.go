//go:build whisper_cpp

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// whisperRecognizer runs whisper.cpp in process. The model is shared and a
// fresh context is created per utterance.
type whisperRecognizer struct {
	model    whisperlib.Model
	language string
	mu       sync.Mutex
}

func NewWhisperRecognizer(cfg config.STTConfig) (Recognizer, error) {
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	language := cfg.Language
	if language == "" {
		language = "auto"
	}
	return &whisperRecognizer{model: model, language: language}, nil
}

func (w *whisperRecognizer) Close() error {
	return w.model.Close()
}

func (w *whisperRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (TranscriptResult, error) {
	if sampleRate != whisperlib.SampleRate {
		return TranscriptResult{}, fmt.Errorf("whisper requires %d Hz audio, got %d", whisperlib.SampleRate, sampleRate)
	}
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, err := w.model.NewContext()
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(w.language); err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper: set language %q: %w", w.language, err)
	}
	if err := wctx.Process(pcmToFloat32Mono(pcm, channels), nil, nil, nil); err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts []string
		probs float64
		count int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return TranscriptResult{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probs += float64(tok.P)
			count++
		}
	}

	res := TranscriptResult{Text: strings.Join(parts, " ")}
	if count > 0 {
		res.Confidence = probs / float64(count)
	}
	return res, nil
}
