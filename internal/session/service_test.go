package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/display"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// scriptFeeder treats frames starting with "|" as utterance boundaries whose
// text follows the bar.
type scriptFeeder struct {
	seq uint64
}

func (f *scriptFeeder) Feed(_ context.Context, frame []byte) (stt.Segment, bool) {
	text, ok := strings.CutPrefix(string(frame), "|")
	if !ok {
		return stt.Segment{}, false
	}
	f.seq++
	return stt.Segment{Sequence: f.seq, Text: text}, true
}

type fakeRecorder struct {
	mu    sync.Mutex
	types []string
	fail  bool
}

func (r *fakeRecorder) Record(_ context.Context, _, _, eventType string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.types = append(r.types, eventType)
	return nil
}

func (r *fakeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *fakePublisher) PublishJSON(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, mutate func(*config.SessionConfig)) (*Service, *fakeRecorder, *fakePublisher) {
	t.Helper()
	cfg := config.Default().Session
	cfg.ExportPath = filepath.Join(t.TempDir(), "transcript.txt")
	if mutate != nil {
		mutate(&cfg)
	}
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	s := NewService(context.Background(), cfg, &scriptFeeder{}, Deps{
		SessionID: "session-test",
		Logger:    testLogger(),
		Display:   display.NewBuffer(),
		Publisher: pub,
		Recorder:  rec,
	})
	t.Cleanup(s.Close)
	return s, rec, pub
}

func TestInitialStateIsIdle(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	if s.RecordingActive() || s.DisplayUpdating() {
		t.Fatalf("gates open at startup")
	}
	s.Capture([]byte("|dropped"))
	if s.QueueDepth() != 0 {
		t.Fatalf("frame accepted while idle")
	}
}

func TestStartStopTransitions(t *testing.T) {
	s, rec, _ := newTestService(t, nil)
	if !s.startRecording() {
		t.Fatalf("start from idle did not change state")
	}
	if s.startRecording() {
		t.Fatalf("second start changed state")
	}
	if !s.RecordingActive() || !s.DisplayUpdating() {
		t.Fatalf("gates closed while recording")
	}
	if !s.stopRecording() || s.stopRecording() {
		t.Fatalf("unexpected stop transitions")
	}
	got := rec.recorded()
	if len(got) != 2 || got[0] != eventstore.TypeSessionStart || got[1] != eventstore.TypeSessionStop {
		t.Fatalf("recorded %v", got)
	}
}

func TestOrderPreservation(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	s.startRecording()
	s.Capture([]byte("audio"))
	s.Capture([]byte("|first"))
	s.Capture([]byte("|second"))

	s.tick()
	if got := s.display.Text(); got != "" {
		t.Fatalf("segment before boundary: %q", got)
	}
	s.tick()
	if got := s.display.Text(); got != "First. " {
		t.Fatalf("after boundary: %q", got)
	}
	s.tick()
	if got := s.display.Text(); got != "First. Second. " {
		t.Fatalf("after third frame: %q", got)
	}
}

func TestFramesPerTick(t *testing.T) {
	s, _, _ := newTestService(t, func(c *config.SessionConfig) { c.FramesPerTick = 2 })
	s.startRecording()
	s.Capture([]byte("|one"))
	s.Capture([]byte("|two"))
	s.Capture([]byte("|three"))
	s.tick()
	if got := s.display.Text(); got != "One. Two. " {
		t.Fatalf("display = %q", got)
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("depth = %d", s.QueueDepth())
	}
}

func TestFramesKeptAcrossStop(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	s.startRecording()
	s.Capture([]byte("|kept"))
	s.stopRecording()
	s.tick()
	if s.display.Text() != "" || s.QueueDepth() != 1 {
		t.Fatalf("frame processed while idle")
	}
	s.startRecording()
	s.tick()
	if got := s.display.Text(); got != "Kept. " {
		t.Fatalf("display = %q", got)
	}
}

func TestDeletionPromotesAndSuppresses(t *testing.T) {
	s, rec, pub := newTestService(t, nil)
	s.startRecording()

	for i := 1; i <= 3; i++ {
		res := s.deleteText("hello")
		if res.Count != i || res.Promoted != (i == 3) {
			t.Fatalf("deletion %d: %+v", i, res)
		}
	}
	if res := s.deleteText("hello"); res.Promoted || res.Count != 4 {
		t.Fatalf("re-promotion: %+v", res)
	}

	s.Capture([]byte("|hello world"))
	s.tick()
	if got := s.display.Text(); got != "World. " {
		t.Fatalf("display = %q", got)
	}

	promotions := 0
	for _, typ := range rec.recorded() {
		if typ == eventstore.TypePromotion {
			promotions++
		}
	}
	if promotions != 1 {
		t.Fatalf("promotions recorded = %d", promotions)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	var sawPromotion bool
	for _, subj := range pub.subjects {
		if subj == protocol.SubjectPromotion {
			sawPromotion = true
		}
	}
	if !sawPromotion {
		t.Fatalf("promotion not published: %v", pub.subjects)
	}
}

func TestEmptySelectionIsNoop(t *testing.T) {
	s, rec, _ := newTestService(t, nil)
	if res := s.deleteText(""); res != (DeleteResult{}) {
		t.Fatalf("empty deletion = %+v", res)
	}
	if len(rec.recorded()) != 0 {
		t.Fatalf("empty deletion recorded events")
	}
}

func TestFullySuppressedSegmentNotAppended(t *testing.T) {
	s, _, _ := newTestService(t, func(c *config.SessionConfig) { c.PromotionThreshold = 1 })
	s.startRecording()
	s.deleteText("uh")
	s.Capture([]byte("|uh uh"))
	s.tick()
	if got := s.display.Text(); got != "" {
		t.Fatalf("display = %q", got)
	}
}

func TestDeleteRemovesFromDisplay(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	s.startRecording()
	s.Capture([]byte("|hello there"))
	s.tick()

	res := s.deleteText("Hello ")
	if !res.Removed || s.display.Text() != "there. " {
		t.Fatalf("remove: %+v display=%q", res, s.display.Text())
	}
	res, err := s.deleteRange(0, 5)
	if err != nil || res.Text != "there" || res.Count != 1 {
		t.Fatalf("range delete: %+v err=%v", res, err)
	}
	if _, err := s.deleteRange(0, 100); !errors.Is(err, display.ErrRange) {
		t.Fatalf("expected ErrRange, got %v", err)
	}
}

func TestExportExactText(t *testing.T) {
	s, rec, _ := newTestService(t, nil)
	s.startRecording()
	s.Capture([]byte("|a"))
	s.Capture([]byte("|b"))
	s.tick()
	s.tick()

	if err := s.save(""); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(s.cfg.ExportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != "A. B. " {
		t.Fatalf("exported %q", data)
	}
	got := rec.recorded()
	if got[len(got)-1] != eventstore.TypeExport {
		t.Fatalf("export not recorded: %v", got)
	}

	if err := s.save(filepath.Join(t.TempDir(), "missing", "out.txt")); err == nil {
		t.Fatalf("expected export failure")
	}
	if s.display.Text() != "A. B. " {
		t.Fatalf("failed export changed display")
	}
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	s, rec, _ := newTestService(t, nil)
	rec.fail = true
	s.startRecording()
	s.Capture([]byte("|still works"))
	s.tick()
	if got := s.display.Text(); got != "Still works. " {
		t.Fatalf("display = %q", got)
	}
}

func TestCommandsRequireRunningLoop(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	if _, err := s.StartRecording(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestLoopEndToEnd(t *testing.T) {
	s, _, _ := newTestService(t, func(c *config.SessionConfig) { c.TickIntervalMS = 1 })
	if err := s.Start(); err != nil {
		t.Fatalf("start loop: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changed, err := s.StartRecording(ctx)
	if err != nil || !changed {
		t.Fatalf("start recording: changed=%v err=%v", changed, err)
	}
	s.Capture([]byte("|hello world"))
	waitForText(t, ctx, s, "Hello world. ")

	for i := 0; i < 3; i++ {
		if _, err := s.Delete(ctx, "hello"); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	s.Capture([]byte("|hello again"))
	waitForText(t, ctx, s, " world. Again. ")

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != "recording" || snap.Suppressed["hello"] != 3 || snap.Counts["hello"] != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if changed, err := s.StopRecording(ctx); err != nil || !changed {
		t.Fatalf("stop recording: changed=%v err=%v", changed, err)
	}
	path := filepath.Join(t.TempDir(), "out.txt")
	if err := s.Save(ctx, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != snap.Text {
		t.Fatalf("export %q differs from display %q", data, snap.Text)
	}
}

func waitForText(t *testing.T, ctx context.Context, s *Service, suffix string) {
	t.Helper()
	for {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot while waiting for %q: %v", suffix, err)
		}
		if strings.HasSuffix(snap.Text, suffix) {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %q, display %q", suffix, snap.Text)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestCloseLogsSuppressionSet(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Default().Session
	s := NewService(context.Background(), cfg, &scriptFeeder{}, Deps{
		SessionID: "session-test",
		Logger:    slog.New(slog.NewTextHandler(&out, nil)),
	})
	for i := 0; i < cfg.PromotionThreshold; i++ {
		s.deleteText("hello")
	}
	s.Close()

	logged := out.String()
	if !strings.Contains(logged, "final suppression set") || !strings.Contains(logged, "hello=3") {
		t.Fatalf("suppression set not logged:\n%s", logged)
	}
}

func TestQueueBacklogWarnsOnceAndExportsDepth(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = provider.Shutdown(context.Background())
	})

	var out bytes.Buffer
	cfg := config.Default().Session
	cfg.QueueWarnFrames = 2
	s := NewService(context.Background(), cfg, &scriptFeeder{}, Deps{
		SessionID: "session-test",
		Logger:    slog.New(slog.NewTextHandler(&out, nil)),
	})
	defer s.Close()
	s.startRecording()

	for i := 0; i < 3; i++ {
		s.Capture([]byte("frame"))
	}
	s.checkDepth()
	s.checkDepth()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got, ok := gaugeValue(rm, "dictate.queue.depth"); !ok || got != 3 {
		t.Fatalf("queue depth gauge = %d (found %v)", got, ok)
	}

	for s.QueueDepth() > 0 {
		s.queue.TryPop()
	}
	s.checkDepth()
	s.checkDepth()

	logged := out.String()
	if n := strings.Count(logged, `msg="audio queue backlog" `); n != 1 {
		t.Fatalf("backlog warnings = %d:\n%s", n, logged)
	}
	if n := strings.Count(logged, `msg="audio queue backlog cleared"`); n != 1 {
		t.Fatalf("backlog cleared logs = %d:\n%s", n, logged)
	}
}

func gaugeValue(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(gauge.DataPoints) == 0 {
				return 0, false
			}
			return gauge.DataPoints[0].Value, true
		}
	}
	return 0, false
}
