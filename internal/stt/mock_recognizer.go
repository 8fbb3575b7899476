package stt

import (
	"context"
	"fmt"
	"sync/atomic"
)

type mockRecognizer struct {
	calls atomic.Int64
}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm []byte, sampleRate int, channels int) (TranscriptResult, error) {
	n := m.calls.Add(1)
	ms := 0
	if bytesPerMS := sampleRate * channels * 2 / 1000; bytesPerMS > 0 {
		ms = len(pcm) / bytesPerMS
	}
	return TranscriptResult{
		Text:       fmt.Sprintf("mock utterance %d lasting %d ms", n, ms),
		Confidence: 0,
	}, nil
}
