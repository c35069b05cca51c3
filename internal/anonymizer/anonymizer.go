// Package anonymizer redacts personal identifiers from court documents
// before they are sent to an AI provider or shown in a safe preview.
// Redaction runs in two passes:
//  1. Structural pass: Brazilian identifier formats (CPF, CNPJ, RG, PIS,
//     CTPS, CEP, CNJ process numbers, OAB), phone, email, bank account and,
//     opt-in, currency amounts are replaced by category tokens such as [CPF].
//     Overlapping matches are resolved by a fixed category priority.
//  2. Name pass: caller-supplied names are replaced by [PESSOA n], where n
//     follows the order in which the names were supplied.
//
// Output depends only on the arguments. Compiled patterns are read-only and
// the name matcher cache is locked, so calls are safe from any number of
// goroutines.
package anonymizer

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"
)

// Report summarises what one call redacted.
type Report struct {
	// Categories counts structural replacements per category.
	Categories map[Category]int `json:"categories,omitempty"`
	// Persons is the number of distinct names that were given an index.
	Persons int `json:"persons"`
	// NameReplacements counts [PESSOA n] tokens written.
	NameReplacements int `json:"nameReplacements"`
}

// Total returns the number of tokens written.
func (r Report) Total() int {
	n := r.NameReplacements
	for _, c := range r.Categories {
		n += c
	}
	return n
}

// Anonymize returns text with identifiers and the given names redacted.
// A nil or disabled config returns text unchanged.
func Anonymize(text string, cfg *Config, names []string) string {
	out, _ := AnonymizeWithReport(text, cfg, names)
	return out
}

// AnonymizeWithReport is Anonymize plus a summary of the replacements made.
func AnonymizeWithReport(text string, cfg *Config, names []string) (string, Report) {
	var rep Report
	if cfg == nil || !cfg.Enabled || text == "" {
		return text, rep
	}

	out, structural := redactStructured(text, cfg)
	if len(structural) > 0 {
		rep.Categories = make(map[Category]int)
		for _, m := range structural {
			rep.Categories[m.category]++
		}
	}

	if len(names) > 0 && cfg.Nomes {
		var persons []match
		out, persons, rep.Persons = indexNames(out, names)
		rep.NameReplacements = len(persons)
	}
	return out, rep
}

// structuralKeys are chat-completion fields that never carry user content.
var structuralKeys = map[string]bool{
	"model": true, "temperature": true, "max_tokens": true,
	"top_p": true, "stream": true, "n": true, "role": true,
}

// AnonymizeJSON parses body as JSON and anonymizes its string values.
// Non-JSON bodies are treated as plain text.
func AnonymizeJSON(body []byte, cfg *Config, names []string) []byte {
	out, _ := AnonymizeJSONWithReport(body, cfg, names)
	return out
}

// AnonymizeJSONWithReport is AnonymizeJSON plus a summary of the
// replacements made across every string value. Persons counts the distinct
// names indexed once, not once per value.
func AnonymizeJSONWithReport(body []byte, cfg *Config, names []string) ([]byte, Report) {
	var rep Report
	if cfg == nil || !cfg.Enabled {
		return body, rep
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		out, rep := AnonymizeWithReport(string(body), cfg, names)
		return []byte(out), rep
	}
	doc = walkValue(doc, cfg, names, &rep)
	out, err := json.Marshal(doc)
	if err != nil {
		return body, Report{}
	}
	return out, rep
}

// walkValue anonymizes string leaves in a decoded JSON value and adds each
// leaf's counts to rep.
func walkValue(v any, cfg *Config, names []string, rep *Report) any {
	switch val := v.(type) {
	case string:
		out, leaf := AnonymizeWithReport(val, cfg, names)
		rep.merge(leaf)
		return out
	case []any:
		for i, item := range val {
			val[i] = walkValue(item, cfg, names, rep)
		}
		return val
	case map[string]any:
		for k, item := range val {
			if !structuralKeys[k] {
				val[k] = walkValue(item, cfg, names, rep)
			}
		}
		return val
	}
	return v
}

// merge adds o's counts to r. Persons depends only on the names argument,
// so it is the same for every document of one call and is not summed.
func (r *Report) merge(o Report) {
	for c, n := range o.Categories {
		if r.Categories == nil {
			r.Categories = make(map[Category]int, len(o.Categories))
		}
		r.Categories[c] += n
	}
	r.Persons = max(r.Persons, o.Persons)
	r.NameReplacements += o.NameReplacements
}

// Result is the outcome for one document of a batch.
type Result struct {
	Text   string `json:"text"`
	Report Report `json:"report"`
}

// AnonymizeBatch anonymizes independent documents in parallel with at most
// workers goroutines (unbounded when workers <= 0). Results keep the order
// of texts. It stops early and returns ctx.Err() if ctx is cancelled.
func AnonymizeBatch(ctx context.Context, texts []string, cfg *Config, names []string, workers int) ([]Result, error) {
	results := make([]Result, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, rep := AnonymizeWithReport(text, cfg, names)
			results[i] = Result{Text: out, Report: rep}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
