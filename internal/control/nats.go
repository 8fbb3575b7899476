package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/nats-io/nats.go"
)

const commandTimeout = 10 * time.Second

// Responder answers protocol.Command requests on dictate.command.
type Responder struct {
	conn *nats.Conn
	ctrl Controller
	log  *slog.Logger
	sub  *nats.Subscription
}

func NewResponder(conn *nats.Conn, ctrl Controller, logger *slog.Logger) *Responder {
	return &Responder{conn: conn, ctrl: ctrl, log: logger.With(slog.String("component", "control"))}
}

func (r *Responder) Start() error {
	sub, err := r.conn.Subscribe(protocol.SubjectCommand, r.handle)
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	r.sub = sub
	r.log.Info("command responder ready", slog.String("subject", protocol.SubjectCommand))
	return nil
}

func (r *Responder) Close() {
	if r.sub != nil {
		_ = r.sub.Drain()
	}
}

func (r *Responder) handle(msg *nats.Msg) {
	var cmd protocol.Command
	reply := protocol.CommandReply{}
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		reply.Error = "invalid command: " + err.Error()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		reply = r.Execute(ctx, cmd)
		cancel()
	}
	data, err := json.Marshal(reply)
	if err != nil {
		r.log.Error("failed to encode command reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		r.log.Warn("failed to respond to command", slog.String("action", cmd.Action), slog.String("error", err.Error()))
	}
}

// Execute runs one command against the controller.
func (r *Responder) Execute(ctx context.Context, cmd protocol.Command) protocol.CommandReply {
	fail := func(err error) protocol.CommandReply {
		return protocol.CommandReply{Error: err.Error()}
	}
	switch cmd.Action {
	case protocol.ActionStart:
		if _, err := r.ctrl.StartRecording(ctx); err != nil {
			return fail(err)
		}
		return protocol.CommandReply{OK: true, State: session.StateRecording.String()}
	case protocol.ActionStop:
		if _, err := r.ctrl.StopRecording(ctx); err != nil {
			return fail(err)
		}
		return protocol.CommandReply{OK: true, State: session.StateIdle.String()}
	case protocol.ActionSave:
		if err := r.ctrl.Save(ctx, cmd.Path); err != nil {
			return fail(err)
		}
		return protocol.CommandReply{OK: true}
	case protocol.ActionDelete:
		res, err := r.ctrl.Delete(ctx, cmd.Text)
		if err != nil {
			return fail(err)
		}
		return protocol.CommandReply{OK: true, Text: fmt.Sprintf("%q deleted %d time(s)", res.Text, res.Count)}
	case protocol.ActionStatus:
		snap, err := r.ctrl.Snapshot(ctx)
		if err != nil {
			return fail(err)
		}
		return protocol.CommandReply{OK: true, State: snap.State, Text: snap.Text, Suppressed: snap.Suppressed}
	default:
		return protocol.CommandReply{Error: fmt.Sprintf("unknown action %q", cmd.Action)}
	}
}
