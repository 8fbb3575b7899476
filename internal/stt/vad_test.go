package stt

import (
	"encoding/binary"
	"testing"
)

// tone returns ms of 16 kHz mono PCM at a constant amplitude.
func tone(ms int, amplitude int16) []byte {
	n := 16 * ms
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(amplitude))
	}
	return pcm
}

func TestRMSEnergy(t *testing.T) {
	if got := rmsEnergy(nil); got != 0 {
		t.Fatalf("empty rms = %v", got)
	}
	if got := rmsEnergy(tone(10, 1000)); got != 1000 {
		t.Fatalf("constant rms = %v, want 1000", got)
	}
	if got := rmsEnergy(tone(10, -1000)); got != 1000 {
		t.Fatalf("negative rms = %v, want 1000", got)
	}
}

func TestDurationMS(t *testing.T) {
	if got := durationMS(tone(100, 0), 16000, 1); got != 100 {
		t.Fatalf("duration = %d, want 100", got)
	}
	if got := durationMS(tone(100, 0), 0, 1); got != 0 {
		t.Fatalf("invalid rate duration = %d", got)
	}
}

func TestPCMToFloat32MonoAveragesChannels(t *testing.T) {
	pcm := make([]byte, 8)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(16384))
	binary.LittleEndian.PutUint16(pcm[2:], 0)
	binary.LittleEndian.PutUint16(pcm[4:], uint16(0x8000))
	binary.LittleEndian.PutUint16(pcm[6:], uint16(0x8000))

	out := pcmToFloat32Mono(pcm, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[0] != 0.25 || out[1] != -1 {
		t.Fatalf("unexpected samples %v", out)
	}
}

func TestVADBoundaries(t *testing.T) {
	v := NewVAD(500, 100, 300)
	loud := tone(100, 4000)
	quiet := tone(100, 0)

	if ev := v.Process(quiet, 100); ev != VADIdle {
		t.Fatalf("silence event = %v", ev)
	}
	if ev := v.Process(loud, 100); ev != VADSpeechStart {
		t.Fatalf("expected speech start, got %v", ev)
	}
	if ev := v.Process(loud, 100); ev != VADSpeechActive {
		t.Fatalf("expected active, got %v", ev)
	}
	for i := 0; i < 2; i++ {
		if ev := v.Process(quiet, 100); ev != VADSpeechActive {
			t.Fatalf("short pause ended speech at %d: %v", i, ev)
		}
	}
	if ev := v.Process(quiet, 100); ev != VADSpeechEnd {
		t.Fatalf("expected speech end, got %v", ev)
	}
	if v.Candidate() {
		t.Fatalf("candidate left over after end")
	}
}

func TestVADIgnoresShortNoise(t *testing.T) {
	v := NewVAD(500, 200, 300)
	if ev := v.Process(tone(100, 4000), 100); ev != VADIdle || !v.Candidate() {
		t.Fatalf("expected candidate, got %v", ev)
	}
	if ev := v.Process(tone(100, 0), 100); ev != VADIdle || v.Candidate() {
		t.Fatalf("noise not discarded: %v", ev)
	}
}
