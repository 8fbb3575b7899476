package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// MaxTranscribeAttempts bounds how often one utterance is retried before it is
// discarded.
const MaxTranscribeAttempts = 3

// Decoder is a streaming recognizer. AcceptWaveform returns true when an
// utterance boundary was reached; Result then holds the JSON document
// {"text": "...", "confidence": 0.0} for that utterance.
type Decoder interface {
	AcceptWaveform(ctx context.Context, pcm []byte) (bool, error)
	Result() []byte
}

// BoundaryDecoder cuts the frame stream into utterances with an energy VAD and
// transcribes each utterance through a Recognizer.
type BoundaryDecoder struct {
	recognizer Recognizer
	vad        *VAD
	sampleRate int
	channels   int
	maxMS      int
	timeout    time.Duration

	buf      []byte
	bufMS    int
	pending  [][]byte
	attempts int
	result   []byte
}

func NewBoundaryDecoder(recognizer Recognizer, cfg config.STTConfig) *BoundaryDecoder {
	timeout := time.Duration(cfg.TranscribeTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &BoundaryDecoder{
		recognizer: recognizer,
		vad:        NewVAD(cfg.EnergyThreshold, cfg.SpeechMinMS, cfg.SilenceMS),
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		maxMS:      cfg.MaxUtteranceMS,
		timeout:    timeout,
	}
}

func (d *BoundaryDecoder) AcceptWaveform(ctx context.Context, pcm []byte) (bool, error) {
	frameMS := durationMS(pcm, d.sampleRate, d.channels)
	switch d.vad.Process(pcm, frameMS) {
	case VADIdle:
		if d.vad.Candidate() {
			d.buffer(pcm, frameMS)
		} else {
			d.buf = d.buf[:0]
			d.bufMS = 0
		}
	case VADSpeechStart, VADSpeechActive:
		d.buffer(pcm, frameMS)
		if d.maxMS > 0 && d.bufMS >= d.maxMS {
			d.cut()
		}
	case VADSpeechEnd:
		d.buffer(pcm, frameMS)
		d.cut()
	}

	if len(d.pending) == 0 {
		return false, nil
	}
	return d.transcribe(ctx)
}

func (d *BoundaryDecoder) Result() []byte {
	return d.result
}

// Pending reports the utterances waiting for transcription.
func (d *BoundaryDecoder) Pending() int {
	return len(d.pending)
}

func (d *BoundaryDecoder) buffer(pcm []byte, frameMS int) {
	d.buf = append(d.buf, pcm...)
	d.bufMS += frameMS
}

func (d *BoundaryDecoder) cut() {
	if len(d.buf) == 0 {
		return
	}
	utterance := make([]byte, len(d.buf))
	copy(utterance, d.buf)
	d.pending = append(d.pending, utterance)
	d.buf = d.buf[:0]
	d.bufMS = 0
}

func (d *BoundaryDecoder) transcribe(ctx context.Context) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.recognizer.Transcribe(tctx, d.pending[0], d.sampleRate, d.channels)
	if err != nil {
		d.attempts++
		if d.attempts >= MaxTranscribeAttempts {
			d.pop()
			return false, fmt.Errorf("transcribe utterance: discarded after %d attempts: %w", MaxTranscribeAttempts, err)
		}
		return false, fmt.Errorf("transcribe utterance (attempt %d): %w", d.attempts, err)
	}
	d.pop()

	payload, err := json.Marshal(res)
	if err != nil {
		return false, fmt.Errorf("encode transcript: %w", err)
	}
	d.result = payload
	return true, nil
}

func (d *BoundaryDecoder) pop() {
	d.pending[0] = nil
	d.pending = d.pending[1:]
	d.attempts = 0
}
