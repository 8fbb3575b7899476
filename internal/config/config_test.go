package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.TickIntervalMS != 100 {
		t.Fatalf("expected 100ms tick, got %d", cfg.Session.TickIntervalMS)
	}
	if cfg.Session.PromotionThreshold != 3 {
		t.Fatalf("expected promotion threshold 3, got %d", cfg.Session.PromotionThreshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_CAPTURE_MODE", "wav")
	t.Setenv("LOQA_CAPTURE_WAV_PATH", "/tmp/in.wav")
	t.Setenv("LOQA_STT_ENERGY_THRESHOLD", "250.5")
	t.Setenv("LOQA_SESSION_TICK_INTERVAL_MS", "50")
	t.Setenv("LOQA_SESSION_PROMOTION_THRESHOLD", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.Capture.Mode != "wav" || cfg.Capture.WAVPath != "/tmp/in.wav" {
		t.Fatalf("expected capture override, got %+v", cfg.Capture)
	}
	if cfg.STT.EnergyThreshold != 250.5 {
		t.Fatalf("expected energy threshold override, got %v", cfg.STT.EnergyThreshold)
	}
	if cfg.Session.TickIntervalMS != 50 {
		t.Fatalf("expected tick interval override")
	}
	if cfg.Session.PromotionThreshold != 5 {
		t.Fatalf("expected promotion threshold override")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-dictate.yaml")
	data := []byte(`runtime_name: test-dictate
bus:
  enabled: false
capture:
  mode: none
stt:
  mode: exec
  command: "whisper-cli --json"
session:
  frames_per_tick: 4
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "test-dictate" {
		t.Fatalf("unexpected runtime name %q", cfg.RuntimeName)
	}
	if cfg.STT.Command != "whisper-cli --json" {
		t.Fatalf("unexpected stt command %q", cfg.STT.Command)
	}
	if cfg.Session.FramesPerTick != 4 {
		t.Fatalf("expected frames_per_tick 4, got %d", cfg.Session.FramesPerTick)
	}
	if cfg.Session.TickIntervalMS != 100 {
		t.Fatalf("expected default tick interval to survive partial file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"exec without command":  func(c *Config) { c.STT.Mode = "exec" },
		"whisper without model": func(c *Config) { c.STT.Mode = "whisper" },
		"unknown capture":       func(c *Config) { c.Capture.Mode = "alsa" },
		"wav without path":      func(c *Config) { c.Capture.Mode = "wav" },
		"bus capture no bus":    func(c *Config) { c.Bus.Enabled = false },
		"zero threshold":        func(c *Config) { c.Session.PromotionThreshold = 0 },
		"zero tick":             func(c *Config) { c.Session.TickIntervalMS = 0 },
		"bad retention":         func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"format mismatch":       func(c *Config) { c.STT.SampleRate = 8000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
