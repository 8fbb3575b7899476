package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusSource receives protocol.AudioFrame messages published on audio.frame.>.
type BusSource struct {
	bus *bus.Client
	cfg config.CaptureConfig
	log *slog.Logger
}

func NewBusSource(client *bus.Client, cfg config.CaptureConfig, logger *slog.Logger) *BusSource {
	return &BusSource{bus: client, cfg: cfg, log: logger}
}

func (b *BusSource) Run(ctx context.Context, sink Sink) error {
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := b.bus.Conn().Subscribe(subject, func(msg *nats.Msg) {
		b.handle(msg, sink)
	})
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	b.log.Info("listening for audio frames", slog.String("subject", subject))

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		b.log.Warn("failed to drain audio subscription", slog.String("error", err.Error()))
	}
	return nil
}

func (b *BusSource) handle(msg *nats.Msg, sink Sink) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		b.log.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}
	if (frame.SampleRate != 0 && frame.SampleRate != b.cfg.SampleRate) ||
		(frame.Channels != 0 && frame.Channels != b.cfg.Channels) {
		b.log.Warn("dropping audio frame with unexpected format",
			slog.Int("sample_rate", frame.SampleRate),
			slog.Int("channels", frame.Channels))
		return
	}
	if len(frame.PCM)%2 != 0 {
		b.log.Warn("dropping misaligned audio frame", slog.Int("bytes", len(frame.PCM)))
		return
	}
	sink(frame.PCM)
}
