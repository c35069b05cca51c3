package anonymizer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	// MinNameLength is the shortest core name, in runes, that is redacted.
	MinNameLength = 2
	// MaxNameLength caps a core name, in runes. Longer names are skipped
	// before any matcher is built for them.
	MaxNameLength = 200

	personLabel = "PESSOA"
)

// PersonPlaceholder returns the token for the n-th supplied person.
func PersonPlaceholder(n int) string {
	return "[" + personLabel + " " + strconv.Itoa(n) + "]"
}

// nameEntry is one distinct core name and the matcher built for it.
type nameEntry struct {
	core  string
	index int
	re    *regexp.Regexp
}

// coreName strips a trailing "(...)" annotation and surrounding whitespace.
// The annotation runs from the final ")" back to its matching "(", so nested
// groups go with it; a name with unbalanced parentheses is kept as is.
func coreName(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasSuffix(s, ")") {
		return s
	}
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[:i])
			}
		}
	}
	return s
}

// nameMatcher builds a case-insensitive literal matcher for name. Words are
// escaped one by one and joined by \s+ so a name broken across lines by
// document extraction still matches. Compiled matchers are shared through
// the process-wide matcher cache.
func nameMatcher(name string) (*regexp.Regexp, bool) {
	words := strings.Fields(name)
	if len(words) == 0 {
		return nil, false
	}
	key := strings.Join(words, " ")
	if re, ok := matchers.get(key); ok {
		return re, true
	}
	for i, w := range words {
		words[i] = literalWord(w)
	}
	re, err := regexp.Compile(`(?i)` + strings.Join(words, `\s+`))
	if err != nil {
		return nil, false
	}
	matchers.put(key, re)
	return re, true
}

// literalWord escapes an NFC word so that each precomposed rune also
// matches its decomposed form. "João" matches "Joa\u0303o" without the
// document having to be normalised first.
func literalWord(w string) string {
	var b strings.Builder
	for _, r := range w {
		composed := string(r)
		decomposed := norm.NFD.String(composed)
		if decomposed == composed {
			b.WriteString(regexp.QuoteMeta(composed))
			continue
		}
		b.WriteString(`(?:`)
		b.WriteString(regexp.QuoteMeta(composed))
		b.WriteByte('|')
		b.WriteString(regexp.QuoteMeta(decomposed))
		b.WriteByte(')')
	}
	return b.String()
}

// buildNameEntries turns the raw list into distinct entries. Indices follow
// supply order; names that fold to the same key share one index.
func buildNameEntries(names []string) []nameEntry {
	folder := cases.Fold()
	seen := make(map[string]int, len(names))
	var entries []nameEntry
	for _, raw := range names {
		core := coreName(raw)
		n := utf8.RuneCountInString(core)
		if n < MinNameLength || n > MaxNameLength {
			continue
		}
		core = norm.NFC.String(core)
		key := folder.String(strings.Join(strings.Fields(core), " "))
		if _, ok := seen[key]; ok {
			continue
		}
		re, ok := nameMatcher(core)
		if !ok {
			continue
		}
		seen[key] = len(entries) + 1
		entries = append(entries, nameEntry{core: core, index: len(entries) + 1, re: re})
	}
	return entries
}

// indexNames replaces every occurrence of the supplied names with
// [PESSOA n]. Placeholders already present in text are claimed first so a
// name can never rewrite one. Longer names claim before shorter ones, so
// "João Silva" is redacted whole even if "João" was supplied earlier. Text
// outside the replaced spans is returned byte for byte, whatever its
// normalisation form.
func indexNames(text string, names []string) (string, []match, int) {
	entries := buildNameEntries(names)
	if len(entries) == 0 || text == "" {
		return text, nil, len(entries)
	}

	var tracker rangeTracker
	for _, loc := range placeholderRe.FindAllStringIndex(text, -1) {
		tracker.tryClaim(loc[0], loc[1])
	}

	byLength := make([]nameEntry, len(entries))
	copy(byLength, entries)
	sort.SliceStable(byLength, func(i, j int) bool {
		return utf8.RuneCountInString(byLength[i].core) > utf8.RuneCountInString(byLength[j].core)
	})

	var winners []match
	for _, e := range byLength {
		placeholder := PersonPlaceholder(e.index)
		for _, loc := range e.re.FindAllStringIndex(text, -1) {
			if !atWordEdges(text, loc[0], loc[1]) {
				continue
			}
			if tracker.tryClaim(loc[0], loc[1]) {
				winners = append(winners, match{start: loc[0], end: loc[1], index: e.index, placeholder: placeholder})
			}
		}
	}
	if len(winners) == 0 {
		return text, nil, len(entries)
	}
	return rebuild(text, winners), winners, len(entries)
}

// atWordEdges rejects a match that starts or ends in the middle of a word,
// so "Ana" is not redacted inside "Mariana". Only edges where the name
// itself has a word character are checked.
func atWordEdges(text string, start, end int) bool {
	first, _ := utf8.DecodeRuneInString(text[start:end])
	if isWordRune(first) && start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(prev) {
			return false
		}
	}
	last, _ := utf8.DecodeLastRuneInString(text[start:end])
	if isWordRune(last) && end < len(text) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(next) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}
