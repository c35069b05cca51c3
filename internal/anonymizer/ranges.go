package anonymizer

import "sort"

// span is a half-open byte interval [start, end).
type span struct {
	start, end int
}

// rangeTracker records the spans already claimed by a redaction so that no
// two redactions overlap. Claims are kept sorted by start and are pairwise
// disjoint, so only the neighbours of the insertion point need checking.
type rangeTracker struct {
	spans []span
}

// tryClaim claims [start, end) and returns true, or returns false without
// changing anything if the interval intersects an existing claim. Empty
// and inverted intervals are never claimed.
func (t *rangeTracker) tryClaim(start, end int) bool {
	if start < 0 || end <= start {
		return false
	}
	i := sort.Search(len(t.spans), func(i int) bool { return t.spans[i].start >= start })
	if i < len(t.spans) && t.spans[i].start < end {
		return false
	}
	if i > 0 && t.spans[i-1].end > start {
		return false
	}
	t.spans = append(t.spans, span{})
	copy(t.spans[i+1:], t.spans[i:])
	t.spans[i] = span{start: start, end: end}
	return true
}

// claimed returns the claimed intervals in ascending order.
func (t *rangeTracker) claimed() []span {
	out := make([]span, len(t.spans))
	copy(out, t.spans)
	return out
}
