package control

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamReadTimeout = 60 * time.Second
	streamWriteWait   = 10 * time.Second
	streamBuffer      = 64
)

// streamPingInterval must stay below the read timeout so that a listen-only
// client keeps the connection alive through its pongs.
const streamPingInterval = streamReadTimeout * 9 / 10

// Stream pushes display changes to websocket clients and accepts deletions
// from them.
type Stream struct {
	ctrl         Controller
	log          *slog.Logger
	upgrader     websocket.Upgrader
	readTimeout  time.Duration
	pingInterval time.Duration
}

type streamMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Start    *int   `json:"start,omitempty"`
	End      *int   `json:"end,omitempty"`
	Count    int    `json:"count,omitempty"`
	Promoted bool   `json:"promoted,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func NewStream(ctrl Controller, logger *slog.Logger) *Stream {
	return &Stream{
		ctrl: ctrl,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 16,
		},
		readTimeout:  streamReadTimeout,
		pingInterval: streamPingInterval,
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg streamMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(msg)
	}

	text, updates, cancel := s.ctrl.Display().SubscribeWithText(streamBuffer)
	defer cancel()
	if err := write(streamMessage{Type: "snapshot", Text: text}); err != nil {
		return
	}

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	go func() {
		defer stop()
		ping := time.NewTicker(s.pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
				writeMu.Unlock()
				if err != nil {
					return
				}
			case u, ok := <-updates:
				if !ok {
					return
				}
				if err := write(streamMessage{Type: u.Kind, Text: u.Text}); err != nil {
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(s.readTimeout)) })
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket closed", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		var reply streamMessage
		switch msg.Type {
		case "ping":
			reply = streamMessage{Type: "pong"}
		case "delete":
			req := deleteRequest{Text: msg.Text, Start: msg.Start, End: msg.End}
			res, err := req.apply(ctx, s.ctrl)
			if err != nil {
				reply = streamMessage{Type: "error", Detail: err.Error()}
				break
			}
			reply = streamMessage{Type: "deleted", Text: res.Text, Count: res.Count, Promoted: res.Promoted}
		default:
			reply = streamMessage{Type: "error", Detail: "unknown message type"}
		}
		if err := write(reply); err != nil {
			return
		}
	}
}
