package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/control"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"golang.org/x/sync/errgroup"
)

// transcriptStream retains published dictation events when JetStream is
// available.
const transcriptStream = "DICTATE"

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	sessionID string
	embedded  *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *eventstore.Store
	session   *session.Service
	responder *control.Responder
	recCloser io.Closer

	httpServer *http.Server
	promServer *http.Server
	addr       atomic.Value
	ready      atomic.Bool
	readyCh    chan struct{}
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		sessionID: uuid.NewString(),
		readyCh:   make(chan struct{}),
	}
}

// Ready is closed once every component is started.
func (r *Runtime) Ready() <-chan struct{} {
	return r.readyCh
}

// Addr is the bound HTTP address, valid after Ready.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

// Start runs the daemon until ctx is cancelled or a server fails.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		return err
	}
	defer r.stopComponents()

	var source capture.Source
	source, err = capture.New(r.cfg.Capture, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create capture source: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	control.NewHandler(r.session, r.store, r.logger).Register(mux)

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.addr.Store(ln.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var promLn net.Listener
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		promLn, err = net.Listen("tcp", r.cfg.Telemetry.PrometheusBind)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen %s: %w", r.cfg.Telemetry.PrometheusBind, err)
		}
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", metricsHandler)
		r.promServer = &http.Server{Handler: promMux, ReadHeaderTimeout: 5 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	if r.promServer != nil {
		g.Go(func() error {
			if err := r.promServer.Serve(promLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}
	if source != nil {
		g.Go(func() error {
			if err := source.Run(gctx, r.session.Capture); err != nil {
				r.logger.Error("capture source stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		if r.promServer != nil {
			if err := r.promServer.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	r.ready.Store(true)
	close(r.readyCh)
	r.logger.Info("runtime started",
		slog.String("addr", r.Addr()),
		slog.String("session_id", r.sessionID),
		slog.String("capture", r.cfg.Capture.Mode),
		slog.String("stt", r.cfg.STT.Mode))

	return g.Wait()
}

func (r *Runtime) startComponents(ctx context.Context) error {
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "natsserver")))
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		if embedded != nil {
			r.embedded = embedded
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		r.bus = client
		if err := client.EnsureStream(transcriptStream, protocol.SubjectSegment, protocol.SubjectDeletion, protocol.SubjectPromotion); err != nil {
			r.logger.Warn("transcript stream unavailable", slog.String("error", err.Error()))
		}
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	if err := store.AppendSession(ctx, r.sessionID, r.cfg.RuntimeName); err != nil {
		r.logger.Warn("failed to record session", slog.String("error", err.Error()))
	}

	recognizer, err := stt.NewRecognizer(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	if closer, ok := recognizer.(io.Closer); ok {
		r.recCloser = closer
	}
	adapter := stt.NewAdapter(stt.NewBoundaryDecoder(recognizer, r.cfg.STT), r.logger)

	deps := session.Deps{
		SessionID: r.sessionID,
		Logger:    r.logger,
		Recorder:  store,
	}
	if r.bus != nil {
		deps.Publisher = r.bus
	}
	r.session = session.NewService(ctx, r.cfg.Session, adapter, deps)
	if err := r.session.Start(); err != nil {
		return fmt.Errorf("failed to start session loop: %w", err)
	}

	if r.bus != nil {
		r.responder = control.NewResponder(r.bus.Conn(), r.session, r.logger)
		if err := r.responder.Start(); err != nil {
			return fmt.Errorf("failed to start command responder: %w", err)
		}
	}
	return nil
}

// stopComponents releases components in reverse start order. It tolerates a
// partial start.
func (r *Runtime) stopComponents() {
	if r.responder != nil {
		r.responder.Close()
	}
	if r.session != nil {
		r.session.Close()
	}
	if r.recCloser != nil {
		if err := r.recCloser.Close(); err != nil {
			r.logger.Warn("recognizer close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.session.Healthy() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
