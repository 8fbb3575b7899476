// Package capture feeds raw audio frames to the session's capture callback.
package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Sink receives one frame of 16-bit little-endian PCM. It must not block.
type Sink func(frame []byte)

// Source produces frames until ctx ends or the input is exhausted.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// New builds the source selected by cfg.Mode. Mode "none" returns a nil
// Source.
func New(cfg config.CaptureConfig, busClient *bus.Client, logger *slog.Logger) (Source, error) {
	logger = logger.With(slog.String("component", "capture"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "wav":
		return NewWAVSource(cfg, logger)
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("capture mode bus requires the bus to be enabled")
		}
		return NewBusSource(busClient, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported capture mode %q", cfg.Mode)
	}
}

// frameBytes is the size of one frame of the configured format.
func frameBytes(cfg config.CaptureConfig) int {
	n := cfg.SampleRate * cfg.Channels * 2 * cfg.FrameDurationMS / 1000
	return n - n%(2*cfg.Channels)
}
