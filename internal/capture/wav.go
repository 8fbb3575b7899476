package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// WAVSource replays a WAV file as if it were being captured live.
type WAVSource struct {
	pcm   []byte
	frame int
	pace  time.Duration
	loop  bool
	log   *slog.Logger
}

func NewWAVSource(cfg config.CaptureConfig, logger *slog.Logger) (*WAVSource, error) {
	data, err := os.ReadFile(cfg.WAVPath)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	pcm, sampleRate, channels, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", cfg.WAVPath, err)
	}
	if sampleRate != cfg.SampleRate || channels != cfg.Channels {
		return nil, fmt.Errorf("wav format %d Hz x%d does not match capture config %d Hz x%d",
			sampleRate, channels, cfg.SampleRate, cfg.Channels)
	}
	logger.Info("wav source loaded",
		slog.String("path", cfg.WAVPath),
		slog.Int("bytes", len(pcm)),
		slog.Bool("loop", cfg.Loop))
	return &WAVSource{
		pcm:   pcm,
		frame: frameBytes(cfg),
		pace:  time.Duration(cfg.FrameDurationMS) * time.Millisecond,
		loop:  cfg.Loop,
		log:   logger,
	}, nil
}

func (w *WAVSource) Run(ctx context.Context, sink Sink) error {
	if w.frame <= 0 {
		return errors.New("wav source frame size is zero")
	}
	var tick <-chan time.Time
	if w.pace > 0 {
		ticker := time.NewTicker(w.pace)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		for off := 0; off < len(w.pcm); off += w.frame {
			if tick != nil {
				select {
				case <-ctx.Done():
					return nil
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return nil
			}
			end := min(off+w.frame, len(w.pcm))
			frame := make([]byte, end-off)
			copy(frame, w.pcm[off:end])
			sink(frame)
		}
		if !w.loop {
			w.log.Info("wav source exhausted")
			return nil
		}
	}
}

// decodeWAV returns the file's samples as 16-bit little-endian PCM.
func decodeWAV(data []byte) ([]byte, int, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, 0, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, 0, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, 0, errors.New("empty wav buffer")
	}
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 {
		depth = 16
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		switch {
		case depth > 16:
			v >>= depth - 16
		case depth < 16:
			// 8-bit WAV is unsigned
			v = (v - 128) << 8
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return pcm, int(dec.SampleRate), int(dec.NumChans), nil
}
