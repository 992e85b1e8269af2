// ABOUTME: TTL-bounded, size-limited cache of session summaries.
// ABOUTME: Artifact link mirroring and session listings share one view without refetching.

package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/isugar150/query-bot/internal/api"
)

// entry stores a cached summary with its insertion time and list position.
type entry struct {
	summary api.SessionSummary
	stored  time.Time
	element *list.Element
}

// Summaries is a thread-safe cache of session summaries keyed by session id.
// Entries expire after the TTL and the oldest entry is evicted at capacity.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Summaries struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	order   *list.List // session ids in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a summary cache with the given TTL and maximum size. A
// background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Summaries {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 256
	}
	c := &Summaries{
		entries: make(map[int64]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached summary for a session, if present and not expired.
func (c *Summaries) Get(sessionID int64) (api.SessionSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[sessionID]
	if !ok || time.Since(e.stored) >= c.ttl {
		return api.SessionSummary{}, false
	}
	return e.summary, true
}

// Put stores or replaces the summary for a session.
func (c *Summaries) Put(summary api.SessionSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, exists := c.entries[summary.ID]; exists {
		e.summary = summary
		e.stored = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(summary.ID)
	c.entries[summary.ID] = &entry{
		summary: summary,
		stored:  now,
		element: elem,
	}
}

// SetArtifact updates the cached summary's artifact card fields in place.
// A session that is not cached is ignored; the next listing repopulates it.
func (c *Summaries) SetArtifact(sessionID int64, link *api.ArtifactLink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sessionID]
	if !ok {
		return
	}
	if link == nil {
		e.summary.CardID = nil
		e.summary.CardURL = ""
		return
	}
	cardID := link.ID
	e.summary.CardID = &cardID
	e.summary.CardURL = link.URL
}

// Forget drops a session from the cache.
func (c *Summaries) Forget(sessionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sessionID]; ok {
		c.order.Remove(e.element)
		delete(c.entries, sessionID)
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Summaries) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(int64)
	c.order.Remove(front)
	delete(c.entries, id)
}

// cleanup runs in a background goroutine, removing expired entries.
func (c *Summaries) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Summaries) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.entries {
		if now.Sub(e.stored) > c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, id)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Summaries) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
