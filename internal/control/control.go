// Package control exposes the dictation session over HTTP, a websocket live
// view and NATS request/reply. Handlers never touch session state directly;
// every action is submitted to the session loop.
package control

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-dictate/internal/display"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

// Controller is the command surface of a dictation session.
type Controller interface {
	StartRecording(ctx context.Context) (bool, error)
	StopRecording(ctx context.Context) (bool, error)
	Save(ctx context.Context, path string) error
	Delete(ctx context.Context, selected string) (session.DeleteResult, error)
	DeleteRange(ctx context.Context, start, end int) (session.DeleteResult, error)
	Snapshot(ctx context.Context) (session.Snapshot, error)
	Display() *display.Buffer
	ID() string
}

var _ Controller = (*session.Service)(nil)

// EventReader reads the session timeline.
type EventReader interface {
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
	CountByType(ctx context.Context, sessionID string) (map[string]int, error)
}

var _ EventReader = (*eventstore.Store)(nil)

// deleteRequest selects either text or a rune range.
type deleteRequest struct {
	Text  string `json:"text"`
	Start *int   `json:"start"`
	End   *int   `json:"end"`
}

func (r deleteRequest) apply(ctx context.Context, ctrl Controller) (session.DeleteResult, error) {
	if r.Start != nil || r.End != nil {
		if r.Start == nil || r.End == nil {
			return session.DeleteResult{}, errBadRange
		}
		return ctrl.DeleteRange(ctx, *r.Start, *r.End)
	}
	return ctrl.Delete(ctx, r.Text)
}

var errBadRange = errors.New("delete range needs both start and end")
