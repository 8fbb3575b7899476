package session

import (
	"context"
	"errors"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdSave
	cmdDelete
	cmdDeleteRange
	cmdSnapshot
)

type command struct {
	kind       commandKind
	path       string
	text       string
	start, end int
	reply      chan result
}

type result struct {
	changed  bool
	deletion DeleteResult
	snapshot Snapshot
	err      error
}

func (s *Service) handle(cmd command) result {
	switch cmd.kind {
	case cmdStart:
		return result{changed: s.startRecording()}
	case cmdStop:
		return result{changed: s.stopRecording()}
	case cmdSave:
		return result{err: s.save(cmd.path)}
	case cmdDelete:
		return result{deletion: s.deleteText(cmd.text)}
	case cmdDeleteRange:
		res, err := s.deleteRange(cmd.start, cmd.end)
		return result{deletion: res, err: err}
	case cmdSnapshot:
		return result{snapshot: s.snapshot()}
	default:
		return result{err: errors.New("unknown session command")}
	}
}

// submit hands cmd to the loop goroutine and waits for its result.
func (s *Service) submit(ctx context.Context, cmd command) (result, error) {
	if !s.running.Load() {
		return result{}, ErrNotRunning
	}
	cmd.reply = make(chan result, 1)
	select {
	case s.cmds <- cmd:
	case <-s.ctx.Done():
		return result{}, ErrNotRunning
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// StartRecording moves Idle to Recording. It reports whether the state changed.
func (s *Service) StartRecording(ctx context.Context) (bool, error) {
	res, err := s.submit(ctx, command{kind: cmdStart})
	return res.changed, err
}

// StopRecording moves Recording to Idle. Queued frames are kept for the next
// start.
func (s *Service) StopRecording(ctx context.Context) (bool, error) {
	res, err := s.submit(ctx, command{kind: cmdStop})
	return res.changed, err
}

// Save exports the display text to path, or to the configured export path
// when path is empty.
func (s *Service) Save(ctx context.Context, path string) error {
	_, err := s.submit(ctx, command{kind: cmdSave, path: path})
	return err
}

// Delete reports that the editor deleted selected. An empty selection is a
// no-op.
func (s *Service) Delete(ctx context.Context, selected string) (DeleteResult, error) {
	res, err := s.submit(ctx, command{kind: cmdDelete, text: selected})
	return res.deletion, err
}

// DeleteRange cuts the runes [start, end) from the display and counts the cut
// text as a deletion.
func (s *Service) DeleteRange(ctx context.Context, start, end int) (DeleteResult, error) {
	res, err := s.submit(ctx, command{kind: cmdDeleteRange, start: start, end: end})
	return res.deletion, err
}

func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	res, err := s.submit(ctx, command{kind: cmdSnapshot})
	return res.snapshot, err
}
