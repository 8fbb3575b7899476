package stt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// Segment is one finalized utterance.
type Segment struct {
	Sequence   uint64
	Text       string
	Confidence float64
}

// Adapter turns decoder boundaries into segments.
type Adapter struct {
	decoder Decoder
	logger  *slog.Logger
	seq     uint64
}

func NewAdapter(decoder Decoder, logger *slog.Logger) *Adapter {
	return &Adapter{
		decoder: decoder,
		logger:  logger.With(slog.String("component", "stt")),
	}
}

// Feed hands one frame to the decoder. It returns a segment only when the
// decoder reports a boundary whose result carries non-empty text.
func (a *Adapter) Feed(ctx context.Context, frame []byte) (Segment, bool) {
	boundary, err := a.decoder.AcceptWaveform(ctx, frame)
	if err != nil {
		a.logger.Warn("recognition failed", slog.String("error", err.Error()))
		return Segment{}, false
	}
	if !boundary {
		return Segment{}, false
	}

	var res TranscriptResult
	if err := json.Unmarshal(a.decoder.Result(), &res); err != nil {
		a.logger.Warn("malformed recognizer result", slog.String("error", err.Error()))
		return Segment{}, false
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		a.logger.Debug("empty recognizer result")
		return Segment{}, false
	}

	a.seq++
	return Segment{Sequence: a.seq, Text: text, Confidence: res.Confidence}, true
}
