// Package session runs the dictation polling loop. A single goroutine owns
// recognition, normalization, the correction tracker and display writes;
// every command is executed on that goroutine between ticks.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/correction"
	"github.com/loqalabs/loqa-dictate/internal/display"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/framequeue"
	"github.com/loqalabs/loqa-dictate/internal/normalize"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotRunning is returned for commands sent while the loop is not running.
var ErrNotRunning = errors.New("session loop not running")

// Feeder turns audio frames into recognized segments.
type Feeder interface {
	Feed(ctx context.Context, frame []byte) (stt.Segment, bool)
}

// Publisher sends session events to the bus.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Recorder appends session events to the timeline.
type Recorder interface {
	Record(ctx context.Context, sessionID, traceID, eventType string, payload any) error
}

// Deps are the optional collaborators of a Service. Nil Publisher and
// Recorder disable the corresponding side effects.
type Deps struct {
	SessionID string
	Logger    *slog.Logger
	Display   *display.Buffer
	Publisher Publisher
	Recorder  Recorder
}

// Snapshot is a consistent view of the session taken on the loop goroutine.
type Snapshot struct {
	SessionID  string         `json:"session_id"`
	State      string         `json:"state"`
	Text       string         `json:"text"`
	Suppressed map[string]int `json:"suppressed"`
	Counts     map[string]int `json:"counts"`
	QueueDepth int            `json:"queue_depth"`
}

// DeleteResult describes a handled deletion.
type DeleteResult struct {
	Text     string `json:"text"`
	Count    int    `json:"count"`
	Removed  bool   `json:"removed"`
	Promoted bool   `json:"promoted"`
}

type Service struct {
	cfg      config.SessionConfig
	id       string
	log      *slog.Logger
	queue    *framequeue.Queue[[]byte]
	feeder   Feeder
	display  *display.Buffer
	set      *correction.Set
	tracker  *correction.Tracker
	pub      Publisher
	recorder Recorder
	clock    func() time.Time

	state   atomic.Int32
	running atomic.Bool
	overrun bool
	cmds    chan command

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tracer     trace.Tracer
	meter      metric.Meter
	segments   metric.Int64Counter
	deletions  metric.Int64Counter
	promotions metric.Int64Counter
	frames     metric.Int64Counter
	depthReg   metric.Registration
}

func NewService(parent context.Context, cfg config.SessionConfig, feeder Feeder, deps Deps) *Service {
	ctx, cancel := context.WithCancel(parent)
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buf := deps.Display
	if buf == nil {
		buf = display.NewBuffer()
	}
	set := correction.NewSet()
	s := &Service{
		cfg:      cfg,
		id:       deps.SessionID,
		log:      logger.With(slog.String("component", "session"), slog.String("session_id", deps.SessionID)),
		queue:    framequeue.New[[]byte](),
		feeder:   feeder,
		display:  buf,
		set:      set,
		tracker:  correction.NewTracker(cfg.PromotionThreshold, set),
		pub:      deps.Publisher,
		recorder: deps.Recorder,
		clock:    time.Now,
		cmds:     make(chan command),
		ctx:      ctx,
		cancel:   cancel,
		tracer:   otel.Tracer("github.com/loqalabs/loqa-dictate/session"),
		meter:    otel.Meter("github.com/loqalabs/loqa-dictate/session"),
	}
	s.initMetrics()
	return s
}

// Start launches the polling loop.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session loop already started")
	}
	interval := time.Duration(s.cfg.TickIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.run(interval)
	}()
	s.log.Info("session loop started", slog.Duration("tick", interval), slog.Int("threshold", s.tracker.Threshold()))
	return nil
}

// Close stops the loop and logs the final suppression set.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
	if s.depthReg != nil {
		_ = s.depthReg.Unregister()
	}
	s.logSuppressed()
}

func (s *Service) Healthy() bool {
	return s.running.Load()
}

func (s *Service) ID() string {
	return s.id
}

func (s *Service) Display() *display.Buffer {
	return s.display
}

func (s *Service) State() State {
	return State(s.state.Load())
}

// RecordingActive reports whether captured frames are accepted.
func (s *Service) RecordingActive() bool {
	return s.State() == StateRecording
}

// DisplayUpdating reports whether ticks drain the queue into the display.
func (s *Service) DisplayUpdating() bool {
	return s.State() == StateRecording
}

// Capture is the capture callback. Frames arriving while idle are dropped.
func (s *Service) Capture(frame []byte) {
	if !s.RecordingActive() || len(frame) == 0 {
		return
	}
	s.queue.Push(frame)
}

// QueueDepth is the number of frames waiting for the loop.
func (s *Service) QueueDepth() int {
	return s.queue.Len()
}

func (s *Service) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd.reply <- s.handle(cmd)
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	s.checkDepth()
	if !s.DisplayUpdating() {
		return
	}
	for i := 0; i < max(s.cfg.FramesPerTick, 1); i++ {
		frame, ok := s.queue.TryPop()
		if !ok {
			return
		}
		s.frames.Add(s.ctx, 1)
		seg, ok := s.feeder.Feed(s.ctx, frame)
		if !ok {
			continue
		}
		s.appendSegment(seg)
	}
}

func (s *Service) appendSegment(seg stt.Segment) {
	text := normalize.Normalize(seg.Text, s.set)
	if text == "" {
		s.log.Debug("segment fully suppressed", slog.Uint64("sequence", seg.Sequence))
		return
	}
	ctx, span := s.tracer.Start(s.ctx, "dictate.tick.segment", trace.WithAttributes(
		attribute.Int64("dictate.sequence", int64(seg.Sequence)),
		attribute.Float64("dictate.confidence", seg.Confidence),
	))
	defer span.End()

	line := normalize.Sentence(text)
	s.display.Append(line)
	s.segments.Add(ctx, 1)

	msg := protocol.Segment{
		SessionID:  s.id,
		Sequence:   int(seg.Sequence),
		Raw:        seg.Text,
		Text:       line,
		Confidence: seg.Confidence,
		Timestamp:  s.clock().UTC(),
	}
	s.record(ctx, eventstore.TypeSegment, msg)
	s.publish(protocol.SubjectSegment, msg)
}

func (s *Service) checkDepth() {
	if s.cfg.QueueWarnFrames <= 0 {
		return
	}
	depth := s.queue.Len()
	switch {
	case depth > s.cfg.QueueWarnFrames && !s.overrun:
		s.overrun = true
		s.log.Warn("audio queue backlog", slog.Int("depth", depth), slog.Int("warn_frames", s.cfg.QueueWarnFrames))
	case depth <= s.cfg.QueueWarnFrames && s.overrun:
		s.overrun = false
		s.log.Info("audio queue backlog cleared", slog.Int("depth", depth))
	}
}

func (s *Service) startRecording() bool {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRecording)) {
		return false
	}
	s.log.Info("recording started", slog.Int("queued", s.queue.Len()))
	s.record(s.ctx, eventstore.TypeSessionStart, map[string]any{"queued": s.queue.Len()})
	return true
}

func (s *Service) stopRecording() bool {
	if !s.state.CompareAndSwap(int32(StateRecording), int32(StateIdle)) {
		return false
	}
	s.log.Info("recording stopped", slog.Int("queued", s.queue.Len()))
	s.record(s.ctx, eventstore.TypeSessionStop, map[string]any{"queued": s.queue.Len()})
	return true
}

func (s *Service) save(path string) error {
	if path == "" {
		path = s.cfg.ExportPath
	}
	ctx, span := s.tracer.Start(s.ctx, "dictate.export", trace.WithAttributes(attribute.String("dictate.path", path)))
	defer span.End()

	if err := s.display.Export(path); err != nil {
		span.RecordError(err)
		return err
	}
	size := len(s.display.Text())
	s.log.Info("transcript exported", slog.String("path", path), slog.Int("bytes", size))
	s.record(ctx, eventstore.TypeExport, map[string]any{"path": path, "bytes": size})
	return nil
}

// deleteText handles a deletion of selected text. The span is removed from the
// display when still present; the deletion counts either way.
func (s *Service) deleteText(selected string) DeleteResult {
	if selected == "" {
		return DeleteResult{}
	}
	res := DeleteResult{Text: selected, Removed: s.display.Remove(selected)}
	s.trackDeletion(&res)
	return res
}

func (s *Service) deleteRange(start, end int) (DeleteResult, error) {
	span, err := s.display.Cut(start, end)
	if err != nil {
		return DeleteResult{}, err
	}
	if span == "" {
		return DeleteResult{}, nil
	}
	res := DeleteResult{Text: span, Removed: true}
	s.trackDeletion(&res)
	return res, nil
}

func (s *Service) trackDeletion(res *DeleteResult) {
	promotion, promoted := s.tracker.OnDeletion(res.Text)
	res.Count = s.tracker.Count(res.Text)
	res.Promoted = promoted
	now := s.clock().UTC()

	s.deletions.Add(s.ctx, 1)
	del := protocol.Deletion{SessionID: s.id, Text: res.Text, Count: res.Count, Timestamp: now}
	s.record(s.ctx, eventstore.TypeDeletion, del)
	s.publish(protocol.SubjectDeletion, del)

	if !promoted {
		return
	}
	s.promotions.Add(s.ctx, 1)
	s.log.Info("phrase suppressed", slog.String("phrase", promotion.Phrase), slog.Int("count", promotion.Count))
	p := protocol.Promotion{SessionID: s.id, Phrase: promotion.Phrase, Count: promotion.Count, Timestamp: now}
	s.record(s.ctx, eventstore.TypePromotion, p)
	s.publish(protocol.SubjectPromotion, p)
}

func (s *Service) snapshot() Snapshot {
	return Snapshot{
		SessionID:  s.id,
		State:      s.State().String(),
		Text:       s.display.Text(),
		Suppressed: s.set.Snapshot(),
		Counts:     s.tracker.Counts(),
		QueueDepth: s.queue.Len(),
	}
}

func (s *Service) record(ctx context.Context, eventType string, payload any) {
	if s.recorder == nil {
		return
	}
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if err := s.recorder.Record(ctx, s.id, traceID, eventType, payload); err != nil {
		s.log.Warn("failed to record event", slog.String("type", eventType), slogError(err))
	}
}

func (s *Service) publish(subject string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(subject, v); err != nil {
		s.log.Warn("failed to publish event", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) logSuppressed() {
	snapshot := s.set.Snapshot()
	attrs := make([]any, 0, len(snapshot)+1)
	attrs = append(attrs, slog.Int("phrases", len(snapshot)))
	for _, phrase := range s.set.Phrases() {
		attrs = append(attrs, slog.Int(phrase, snapshot[phrase]))
	}
	s.log.Info("final suppression set", attrs...)
}

func (s *Service) initMetrics() {
	s.segments = s.counter("dictate.segments", "Segments appended to the display")
	s.deletions = s.counter("dictate.deletions", "Deletions reported by the editor")
	s.promotions = s.counter("dictate.promotions", "Phrases promoted into the suppression set")
	s.frames = s.counter("dictate.frames", "Audio frames fed to recognition")

	depth, err := s.meter.Int64ObservableGauge("dictate.queue.depth", metric.WithDescription("Audio frames waiting for the polling loop"))
	if err != nil {
		s.log.Warn("failed to create metric", slog.String("metric", "dictate.queue.depth"), slogError(err))
		return
	}
	s.depthReg, err = s.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(depth, int64(s.queue.Len()))
		return nil
	}, depth)
	if err != nil {
		s.log.Warn("failed to register queue depth callback", slogError(err))
	}
}

func (s *Service) counter(name, desc string) metric.Int64Counter {
	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		s.log.Warn("failed to create metric", slog.String("metric", name), slogError(err))
		return noop.Int64Counter{}
	}
	return c
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
