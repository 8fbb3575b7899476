package correction

// DefaultThreshold is the number of deletions that promotes a phrase.
const DefaultThreshold = 3

// Promotion records the moment a phrase entered the suppression set.
type Promotion struct {
	Phrase string
	Count  int
}

// Tracker counts deletions per exact phrase and promotes a phrase into its
// Set when the count reaches the threshold. Counts are never reset.
type Tracker struct {
	threshold int
	counts    map[string]int
	set       *Set
}

// NewTracker returns a tracker feeding set. A threshold below 1 falls back to
// DefaultThreshold.
func NewTracker(threshold int, set *Set) *Tracker {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if set == nil {
		set = NewSet()
	}
	return &Tracker{
		threshold: threshold,
		counts:    make(map[string]int),
		set:       set,
	}
}

// OnDeletion records one deletion of selected. The promotion is reported
// only on the deletion whose count equals the threshold.
func (t *Tracker) OnDeletion(selected string) (Promotion, bool) {
	if selected == "" {
		return Promotion{}, false
	}
	t.counts[selected]++
	count := t.counts[selected]
	if count != t.threshold {
		return Promotion{}, false
	}
	if !t.set.Add(selected, count) {
		return Promotion{}, false
	}
	return Promotion{Phrase: selected, Count: count}, true
}

// Count returns how many times phrase has been deleted.
func (t *Tracker) Count(phrase string) int {
	return t.counts[phrase]
}

// Counts copies the deletion counts.
func (t *Tracker) Counts() map[string]int {
	out := make(map[string]int, len(t.counts))
	for p, c := range t.counts {
		out[p] = c
	}
	return out
}

// Threshold returns the promotion threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// Suppressed returns the set the tracker promotes into.
func (t *Tracker) Suppressed() *Set { return t.set }
