// Package display holds the dictation text shown to the user. Text is only
// appended by the session loop and only shrinks through user deletions.
package display

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrRange reports a cut outside the current text.
var ErrRange = errors.New("display: range out of bounds")

// Update is delivered to subscribers for every change.
type Update struct {
	Kind string // "append" or "remove"
	Text string
}

// Buffer is safe for concurrent use.
type Buffer struct {
	mu   sync.RWMutex
	text []rune
	subs map[int]chan Update
	next int
}

func NewBuffer() *Buffer {
	return &Buffer{subs: make(map[int]chan Update)}
}

// Append adds text at the end.
func (b *Buffer) Append(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	b.text = append(b.text, []rune(text)...)
	b.broadcast(Update{Kind: "append", Text: text})
	b.mu.Unlock()
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.text)
}

// Cut removes the runes in [start, end) and returns them.
func (b *Buffer) Cut(start, end int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if start < 0 || end > len(b.text) || start > end {
		return "", fmt.Errorf("cut [%d,%d) of %d runes: %w", start, end, len(b.text), ErrRange)
	}
	span := string(b.text[start:end])
	b.text = append(b.text[:start], b.text[end:]...)
	if span != "" {
		b.broadcast(Update{Kind: "remove", Text: span})
	}
	return span, nil
}

// Remove deletes the last occurrence of span. It reports whether span was
// found.
func (b *Buffer) Remove(span string) bool {
	if span == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current := string(b.text)
	idx := strings.LastIndex(current, span)
	if idx < 0 {
		return false
	}
	b.text = []rune(current[:idx] + current[idx+len(span):])
	b.broadcast(Update{Kind: "remove", Text: span})
	return true
}

// Subscribe returns a channel of updates and a cancel func. Slow subscribers
// miss updates rather than blocking writers.
func (b *Buffer) Subscribe(buffer int) (<-chan Update, func()) {
	_, ch, cancel := b.SubscribeWithText(buffer)
	return ch, cancel
}

// SubscribeWithText is Subscribe that also returns the text the first update
// applies to. No change is both in the text and on the channel.
func (b *Buffer) SubscribeWithText(buffer int) (string, <-chan Update, func()) {
	ch := make(chan Update, buffer)
	b.mu.Lock()
	text := string(b.text)
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return text, ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Export writes the full text to path.
func (b *Buffer) Export(path string) error {
	if err := os.WriteFile(path, []byte(b.Text()), 0o644); err != nil {
		return fmt.Errorf("export transcript: %w", err)
	}
	return nil
}

func (b *Buffer) broadcast(u Update) {
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
