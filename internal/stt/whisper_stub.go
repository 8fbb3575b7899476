//go:build !whisper_cpp

package stt

import "github.com/loqalabs/loqa-dictate/internal/config"

func NewWhisperRecognizer(config.STTConfig) (Recognizer, error) {
	return nil, ErrWhisperUnavailable
}
