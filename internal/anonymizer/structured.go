package anonymizer

import (
	"sort"
	"strings"
)

// match is one claimed span and the token that replaces it. Structural
// matches carry a category; name matches carry a 1-based person index.
type match struct {
	start, end  int
	category    Category
	index       int
	placeholder string
}

// maxStructuralPasses bounds redactStructured. Every pass that changes the
// text replaces at least one span with a token no grammar matches, so the
// loop normally settles after one or two passes.
const maxStructuralPasses = 16

// redactStructured replaces every structural identifier in text with its
// category placeholder. It repeats structuralPass until the text stops
// changing: a grammar's match that lost to a higher-priority category can
// hide a shorter match of the same grammar, which only surfaces once the
// winner has been replaced. Running to a fixed point keeps the result
// stable under a second call. Offsets of the returned matches refer to the
// text of the pass that produced them.
func redactStructured(text string, cfg *Config) (string, []match) {
	var all []match
	for range maxStructuralPasses {
		out, winners := structuralPass(text, cfg)
		if len(winners) == 0 {
			break
		}
		text = out
		all = append(all, winners...)
	}
	return text, all
}

// structuralPass is one scan of text. Candidates are offered to the tracker
// in priority order, so where two grammars match overlapping text the
// higher-priority category wins and the other is dropped.
func structuralPass(text string, cfg *Config) (string, []match) {
	if text == "" {
		return text, nil
	}
	var (
		tracker rangeTracker
		winners []match
	)
	for _, m := range candidates(text, cfg) {
		if tracker.tryClaim(m.start, m.end) {
			winners = append(winners, m)
		}
	}
	if len(winners) == 0 {
		return text, nil
	}
	return rebuild(text, winners), winners
}

// rebuild writes text with every match replaced by its placeholder. Matches
// must be pairwise disjoint; offsets all refer to the original text.
func rebuild(text string, matches []match) string {
	sorted := make([]match, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range sorted {
		b.WriteString(text[last:m.start])
		b.WriteString(m.placeholder)
		last = m.end
	}
	b.WriteString(text[last:])
	return b.String()
}
