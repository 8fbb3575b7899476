// Package correction tracks editor deletions and decides which phrases are
// suppressed from future recognized text.
//
// Tracker and Set are not goroutine safe. They are owned by the session's
// polling loop, which serializes every access.
package correction

import "sort"

// Set is the live suppression set: phrase -> deletion count at promotion.
// Entries never expire.
type Set struct {
	active map[string]int
}

// NewSet returns an empty suppression set.
func NewSet() *Set {
	return &Set{active: make(map[string]int)}
}

// Contains reports whether phrase is suppressed. Matching is exact.
func (s *Set) Contains(phrase string) bool {
	_, ok := s.active[phrase]
	return ok
}

// Add activates phrase. It returns false if the phrase was already active,
// in which case the recorded count is left alone.
func (s *Set) Add(phrase string, count int) bool {
	if _, ok := s.active[phrase]; ok {
		return false
	}
	s.active[phrase] = count
	return true
}

// Len returns the number of suppressed phrases.
func (s *Set) Len() int {
	return len(s.active)
}

// Phrases returns the suppressed phrases in lexical order.
func (s *Set) Phrases() []string {
	out := make([]string, 0, len(s.active))
	for p := range s.active {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Snapshot copies the set.
func (s *Set) Snapshot() map[string]int {
	out := make(map[string]int, len(s.active))
	for p, c := range s.active {
		out[p] = c
	}
	return out
}
