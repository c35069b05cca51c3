package anonymizer

import (
	"regexp"
	"strings"
)

// Category names one structural identifier family. Its string form is the
// text inside the placeholder token.
type Category string

// Structural categories, listed in priority order.
const (
	CategoryProcesso Category = "PROCESSO"
	CategoryCNPJ     Category = "CNPJ"
	CategoryCPF      Category = "CPF"
	CategoryPIS      Category = "PIS"
	CategoryCTPS     Category = "CTPS"
	CategoryRG       Category = "RG"
	CategoryCEP      Category = "CEP"
	CategoryOAB      Category = "OAB"
	CategoryTelefone Category = "TELEFONE"
	CategoryEmail    Category = "EMAIL"
	CategoryConta    Category = "CONTA"
	CategoryValor    Category = "VALOR"
)

// Placeholder returns the token that replaces a span of this category.
func (c Category) Placeholder() string {
	return "[" + string(c) + "]"
}

// rule pairs a category with its grammar. When valueGroup is non-zero only
// that submatch is claimed, leaving a surrounding label in place.
type rule struct {
	category   Category
	re         *regexp.Regexp
	valueGroup int
	// reject discards a match the grammar cannot tell apart from something
	// that is not an identifier, or that a later enabled category owns.
	reject func(text string, start, end int, cfg *Config) bool
}

// registry is ordered from most to least structurally specific. Go's regexp
// package is RE2-based, so every rule matches in time linear in the input;
// repetitions are bounded anyway to keep individual matches short.
var registry = []rule{
	{
		category: CategoryProcesso,
		re:       regexp.MustCompile(`\b\d{7}\s?-\s?\d{2}\s?\.\s?\d{4}\s?\.\s?\d\s?\.\s?\d{2}\s?\.\s?\d{4}\b`),
	},
	{
		category: CategoryCNPJ,
		re:       regexp.MustCompile(`\b(?:\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}|\d{14})\b`),
	},
	{
		category: CategoryCPF,
		re:       regexp.MustCompile(`\b(?:\d{3}\.\d{3}\.\d{3}-\d{2}|\d{11})\b`),
	},
	{
		category: CategoryPIS,
		re:       regexp.MustCompile(`\b\d{3}\.\d{5}\.\d{2}-\d\b`),
	},
	{
		category: CategoryCTPS,
		re:       regexp.MustCompile(`\b\d{5,7}[/-]\d{3,5}\b`),
		reject:   phoneOrCEP,
	},
	{
		category: CategoryRG,
		re:       regexp.MustCompile(`\b(?:\d{1,2}\.\d{3}\.\d{3}|\d{7,9})(?:-[\dXx]|[Xx])?\b`),
		reject:   followedByDecimal,
	},
	{
		category: CategoryCEP,
		re:       regexp.MustCompile(`\b\d{5}-?\d{3}\b`),
		reject:   followedByDecimal,
	},
	{
		category: CategoryOAB,
		re:       regexp.MustCompile(`(?i)\bOAB\s{0,3}/?\s{0,3}[A-Z]{2}[\s/:-]{0,3}(?:n[º°o.]{0,2}\s{0,3})?\d{1,3}(?:\.?\d{3}){0,2}\b`),
	},
	{
		category: CategoryTelefone,
		re:       regexp.MustCompile(`(?:\+55\s?)?(?:\(\d{2}\)\s?|\b)\d{4,5}[-\s]\d{4}\b`),
	},
	{
		category: CategoryEmail,
		re:       regexp.MustCompile(`\b[A-Za-z0-9._%+\-]{1,64}@[A-Za-z0-9.\-]{1,253}\.[A-Za-z]{2,24}\b`),
	},
	{
		category:   CategoryConta,
		re:         regexp.MustCompile(`(?i)\b(?:ag[eê]ncia|ag\.|conta(?:[\s-]{1,3}corrente)?|c/c)\s{0,3}(?:n[º°o.]{0,2}\s{0,3})?:?\s{0,3}(\d{1,12}(?:-[\dXx])?)`),
		valueGroup: 1,
	},
	{
		category: CategoryValor,
		re:       regexp.MustCompile(`R\$\s{0,3}\d{1,3}(?:\.?\d{3}){0,5}(?:,\d{2})?\b`),
	},
}

// placeholderRe matches every token the engine emits, structural or person.
var placeholderRe = func() *regexp.Regexp {
	names := make([]string, 0, len(registry)+1)
	for _, r := range registry {
		names = append(names, string(r.category))
	}
	names = append(names, personLabel+` \d{1,9}`)
	return regexp.MustCompile(`\[(?:` + strings.Join(names, "|") + `)\]`)
}()

// Categories returns every structural category in priority order.
func Categories() []Category {
	out := make([]Category, len(registry))
	for i, r := range registry {
		out[i] = r.category
	}
	return out
}

// candidates scans text with every enabled rule. The result is ordered by
// rule priority, then by position.
func candidates(text string, cfg *Config) []match {
	var out []match
	for _, r := range registry {
		if !cfg.active(r.category) {
			continue
		}
		for _, loc := range r.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if r.valueGroup > 0 {
				start, end = loc[2*r.valueGroup], loc[2*r.valueGroup+1]
				if start < 0 {
					continue
				}
			}
			if r.reject != nil && r.reject(text, start, end, cfg) {
				continue
			}
			out = append(out, match{
				start:       start,
				end:         end,
				category:    r.category,
				placeholder: r.category.Placeholder(),
			})
		}
	}
	return out
}

// followedByDecimal reports whether the span is the integer part of a
// decimal amount such as "1.234.567,89": a comma, exactly two digits, and
// then neither another digit nor a dot leading into one. A comma-separated
// list like "1234567,7654321" is not an amount.
func followedByDecimal(text string, _, end int, _ *Config) bool {
	if end+3 > len(text) || text[end] != ',' || !isASCIIDigit(text[end+1]) || !isASCIIDigit(text[end+2]) {
		return false
	}
	rest := text[end+3:]
	switch {
	case rest == "":
		return true
	case isASCIIDigit(rest[0]):
		return false
	case rest[0] == '.' && len(rest) > 1 && isASCIIDigit(rest[1]):
		return false
	}
	return true
}

var (
	// areaCodeBefore matches "(11) " or a standalone "11 " ending right
	// before a span.
	areaCodeBefore = regexp.MustCompile(`(?:\(\d{2}\)\s?|(?:^|[^0-9A-Za-z_])\d{2}\s)$`)
	// cepLabelBefore matches a "CEP" or "CEP:" label ending right before a span.
	cepLabelBefore = regexp.MustCompile(`(?i)(?:^|[^\pL\d])cep\s{0,3}[:.]?\s{0,3}$`)
)

// phoneOrCEP hands a CTPS-shaped span to a later category that owns it by
// context: "98765-4321" after an area code goes to TELEFONE and "01310-100"
// after a CEP label goes to CEP. A span is only handed over when that
// category is enabled, so one of the two grammars always redacts it.
func phoneOrCEP(text string, start, end int, cfg *Config) bool {
	span := text[start:end]
	if len(span) < 9 || span[5] != '-' {
		return false
	}
	before := text[max(0, start-16):start]
	switch len(span) {
	case 10: // ddddd-dddd
		return cfg.active(CategoryTelefone) && areaCodeBefore.MatchString(before)
	case 9: // ddddd-ddd
		return cfg.active(CategoryCEP) && cepLabelBefore.MatchString(before)
	}
	return false
}

func isASCIIDigit(b byte) bool { return b >= '0' && b <= '9' }
