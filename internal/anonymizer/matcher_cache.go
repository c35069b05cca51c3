package anonymizer

import (
	"container/list"
	"regexp"
	"sync"
)

// matcherCache keeps compiled name matchers across calls. The same party
// names arrive with every document of a case, so recompiling them per call
// dominates the name pass for short texts.
//
// Eviction is S3-FIFO (Yang et al., 2023):
//
//   - S (small, ~10% of capacity): new keys land here.
//   - M (main): keys read at least once while in S are promoted here.
//   - G (ghost): bounded ring of keys recently dropped from S. A key found
//     in G on insert goes straight to M.
//
// Each entry carries a saturating frequency counter (max 3), bumped on every
// hit and reset on promotion. M evictions do not enter G.
//
//	sTarget  = max(1, capacity/10)
//	mTarget  = capacity - sTarget
//	ghostCap = max(4, 2*sTarget)
type matcherCache struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*matcherEntry

	// Element values are string keys.
	sQueue *list.List
	mQueue *list.List

	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int
}

type matcherEntry struct {
	re   *regexp.Regexp
	freq uint8
	elem *list.Element
	inM  bool
}

// matcherCacheSize bounds the process-wide matcher cache.
const matcherCacheSize = 1024

var matchers = newMatcherCache(matcherCacheSize)

// newMatcherCache returns an empty cache; capacity < 2 is raised to 2.
func newMatcherCache(capacity int) *matcherCache {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := capacity / 10
	if sTarget < 1 {
		sTarget = 1
	}
	ghostCap := 2 * sTarget
	if ghostCap < 4 {
		ghostCap = 4
	}
	return &matcherCache{
		capacity: capacity,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[string]*matcherEntry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]string, ghostCap),
		ghostSet: make(map[string]struct{}, ghostCap),
	}
}

// get returns the cached matcher for key.
func (c *matcherCache) get(key string) (*regexp.Regexp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.freq < 3 {
		e.freq++
	}
	return e.re, true
}

// put stores re under key. An existing key keeps its queue position.
func (c *matcherCache) put(key string, re *regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.re = re
		return
	}

	inM := c.ghostContains(key)
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(key)
	} else {
		elem = c.sQueue.PushBack(key)
	}
	c.entries[key] = &matcherEntry{re: re, elem: elem, inM: inM}

	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		c.evictOne()
	}
}

// size returns the number of resident matchers.
func (c *matcherCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Must be called with c.mu held.
func (c *matcherCache) evictOne() {
	if c.sQueue.Len() > 0 {
		c.evictFromS()
		return
	}
	c.evictFromM()
}

// evictFromS pops the head of S and either promotes it to M or drops it
// into the ghost ring. Must be called with c.mu held.
func (c *matcherCache) evictFromS() {
	front := c.sQueue.Front()
	if front == nil {
		return
	}
	c.sQueue.Remove(front)
	key, ok := front.Value.(string)
	if !ok {
		return
	}
	e, ok := c.entries[key]
	if !ok {
		return
	}

	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.mQueue.PushBack(key)
		if c.mQueue.Len() > c.capacity-c.sTarget {
			c.evictFromM()
		}
		return
	}
	delete(c.entries, key)
	c.ghostAdd(key)
}

// Must be called with c.mu held.
func (c *matcherCache) evictFromM() {
	front := c.mQueue.Front()
	if front == nil {
		return
	}
	c.mQueue.Remove(front)
	if key, ok := front.Value.(string); ok {
		delete(c.entries, key)
	}
}

// Must be called with c.mu held.
func (c *matcherCache) ghostContains(key string) bool {
	_, ok := c.ghostSet[key]
	return ok
}

// ghostAdd appends key to the ghost ring, overwriting the oldest key when
// the ring is full. Must be called with c.mu held.
func (c *matcherCache) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		oldest := c.ghostBuf[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	writeIdx := (c.ghostHead + c.ghostCount) % c.ghostCap
	c.ghostBuf[writeIdx] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
