package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/display"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

const maxBodyBytes = 1 << 20

// Handler serves the session HTTP API.
type Handler struct {
	ctrl   Controller
	events EventReader
	log    *slog.Logger
}

// NewHandler serves ctrl. A nil events reader leaves the timeline route
// unmounted.
func NewHandler(ctrl Controller, events EventReader, logger *slog.Logger) *Handler {
	return &Handler{ctrl: ctrl, events: events, log: logger.With(slog.String("component", "control"))}
}

// Register mounts the API on mux. POST routes only accept application/json so
// that browsers cannot reach them with simple cross-origin requests.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", h.handleSnapshot)
	mux.HandleFunc("POST /v1/session/start", requireJSON(h.handleStart))
	mux.HandleFunc("POST /v1/session/stop", requireJSON(h.handleStop))
	mux.HandleFunc("POST /v1/session/save", requireJSON(h.handleSave))
	mux.HandleFunc("POST /v1/session/delete", requireJSON(h.handleDelete))
	mux.Handle("GET /v1/session/stream", NewStream(h.ctrl, h.log))
	if h.events != nil {
		mux.HandleFunc("GET /v1/session/events", h.handleEvents)
	}
}

type stateResponse struct {
	State   string `json:"state"`
	Changed bool   `json:"changed"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	changed, err := h.ctrl.StartRecording(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: session.StateRecording.String(), Changed: changed})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	changed, err := h.ctrl.StopRecording(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: session.StateIdle.String(), Changed: changed})
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.ctrl.Save(r.Context(), req.Path); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": req.Path})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := req.apply(r.Context(), h.ctrl)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctrl.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type eventView struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	TraceID   string          `json:"trace_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type eventsResponse struct {
	SessionID string         `json:"session_id"`
	Counts    map[string]int `json:"counts"`
	Events    []eventView    `json:"events"`
}

// handleEvents returns the session timeline, oldest first. ?limit bounds the
// number of events.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	id := h.ctrl.ID()
	counts, err := h.events.CountByType(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	events, err := h.events.ListSessionEvents(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := eventsResponse{SessionID: id, Counts: counts, Events: make([]eventView, 0, len(events))}
	for _, e := range events {
		view := eventView{ID: e.ID, Type: e.Type, TraceID: e.TraceID, CreatedAt: e.CreatedAt}
		if json.Valid(e.Payload) {
			view.Payload = e.Payload
		}
		resp.Events = append(resp.Events, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("session command failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, display.ErrRange), errors.Is(err, errBadRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requireJSON(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "content type must be application/json"})
			return
		}
		next(w, r)
	}
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
