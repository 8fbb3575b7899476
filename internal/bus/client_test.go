package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startEmbedded(t *testing.T) (*natsserver.EmbeddedServer, config.BusConfig) {
	t.Helper()
	cfg := config.Default().Bus
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	return srv, cfg
}

func TestConnectRequiresServers(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Servers = nil
	if _, err := Connect(context.Background(), cfg, "test", newLogger()); err == nil {
		t.Fatalf("expected error without servers")
	}
}

func TestPublishAndRequestJSON(t *testing.T) {
	_, cfg := startEmbedded(t)
	client, err := Connect(context.Background(), cfg, "test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatalf("client not healthy")
	}

	type ping struct {
		N int `json:"n"`
	}
	_, err = client.Conn().Subscribe("echo", func(msg *nats.Msg) {
		_ = msg.Respond(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got ping
	if err := client.RequestJSON(ctx, "echo", ping{N: 7}, &got); err != nil {
		t.Fatalf("request: %v", err)
	}
	if got.N != 7 {
		t.Fatalf("reply = %+v", got)
	}

	sub, err := client.Conn().SubscribeSync("events")
	if err != nil {
		t.Fatalf("subscribe sync: %v", err)
	}
	if err := client.PublishJSON("events", ping{N: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if string(msg.Data) != `{"n":1}` {
		t.Fatalf("payload = %s", msg.Data)
	}
}

func TestEnsureStreamIdempotent(t *testing.T) {
	_, cfg := startEmbedded(t)
	client, err := Connect(context.Background(), cfg, "test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	for i := 0; i < 2; i++ {
		if err := client.EnsureStream("DICTATE_TEST", "dictate.test.>"); err != nil {
			t.Fatalf("ensure stream (%d): %v", i, err)
		}
	}
}
