// Package metrics provides lock-minimal counters for the anonymizer service.
//
// Counters use sync/atomic so request handling incurs no mutex contention.
// Latency statistics use a single mutex and are updated once per request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"judicial-anonymizer/internal/anonymizer"
)

// Metrics holds all runtime counters for a running service instance.
// The zero value is usable but only counts categories once built by New.
type Metrics struct {
	RequestsTotal    atomic.Int64
	RequestsDisabled atomic.Int64 // config was off; text passed through
	RequestsRejected atomic.Int64 // bad request, auth or size failures
	DocumentsTotal   atomic.Int64

	PersonsIndexed   atomic.Int64
	NameReplacements atomic.Int64

	// Written only in New; concurrent reads are safe without a lock.
	categories map[anonymizer.Category]*atomic.Int64

	latencyMu sync.Mutex
	latency   latencyStats

	startTime time.Time
}

// New returns Metrics with the start time recorded and one counter per
// structural category.
func New() *Metrics {
	cats := anonymizer.Categories()
	m := &Metrics{
		startTime:  time.Now(),
		categories: make(map[anonymizer.Category]*atomic.Int64, len(cats)),
	}
	for _, c := range cats {
		m.categories[c] = new(atomic.Int64)
	}
	return m
}

// RecordReport adds one document's replacement counts.
func (m *Metrics) RecordReport(rep anonymizer.Report) {
	m.DocumentsTotal.Add(1)
	for c, n := range rep.Categories {
		if ctr, ok := m.categories[c]; ok {
			ctr.Add(int64(n))
		}
	}
	m.PersonsIndexed.Add(int64(rep.Persons))
	m.NameReplacements.Add(int64(rep.NameReplacements))
}

// RecordLatency records the duration of one anonymize request.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.latencyMu.Lock()
	m.latency.record(float64(d.Microseconds()) / 1000.0)
	m.latencyMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.latencyMu.Lock()
	lat := m.latency.snapshot()
	m.latencyMu.Unlock()

	byCategory := make(map[string]int64, len(m.categories))
	var structural int64
	for c, ctr := range m.categories {
		if n := ctr.Load(); n > 0 {
			byCategory[string(c)] = n
			structural += n
		}
	}

	var uptime float64
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Seconds()
	}

	return Snapshot{
		Requests: RequestSnapshot{
			Total:     m.RequestsTotal.Load(),
			Disabled:  m.RequestsDisabled.Load(),
			Rejected:  m.RequestsRejected.Load(),
			Documents: m.DocumentsTotal.Load(),
		},
		Redactions: RedactionSnapshot{
			Structural:       structural,
			ByCategory:       byCategory,
			PersonsIndexed:   m.PersonsIndexed.Load(),
			NameReplacements: m.NameReplacements.Load(),
		},
		LatencyMs:  lat,
		UptimeSecs: uptime,
	}
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot   `json:"requests"`
	Redactions RedactionSnapshot `json:"redactions"`
	LatencyMs  LatencySnapshot   `json:"latencyMs"`
	UptimeSecs float64           `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total     int64 `json:"total"`
	Disabled  int64 `json:"disabled"`
	Rejected  int64 `json:"rejected"`
	Documents int64 `json:"documents"`
}

// RedactionSnapshot holds token volume counters.
type RedactionSnapshot struct {
	Structural int64 `json:"structural"`
	// Only categories with non-zero counts appear.
	ByCategory       map[string]int64 `json:"byCategory,omitempty"`
	PersonsIndexed   int64            `json:"personsIndexed"`
	NameReplacements int64            `json:"nameReplacements"`
}

// LatencySnapshot is a min/mean/max summary.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
