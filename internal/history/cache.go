package history

import (
	"sync"
	"time"
)

// Clock lets tests drive expiry deterministically.
type Clock func() time.Time

// CacheEntry is one student's cached record list. Live entries were populated
// by the push feed and are current rather than TTL-bound.
type CacheEntry struct {
	Records   []Record
	StampedAt time.Time
	TTL       time.Duration
	Live      bool
}

func (e *CacheEntry) valid(now time.Time) bool {
	return e.Live || now.Sub(e.StampedAt) < e.TTL
}

// Cache holds one entry per student.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	ttl     time.Duration
	now     Clock
}

func NewCache(ttl time.Duration, now Clock) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{entries: map[string]*CacheEntry{}, ttl: ttl, now: now}
}

// Get returns the entry only while it is valid. Expiry is not an error;
// callers fall through to a backend fetch.
func (c *Cache) Get(studentID string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[studentID]
	if !ok || !e.valid(c.now()) {
		return CacheEntry{}, false
	}
	return *e, true
}

// Peek returns the entry regardless of validity, for merging live deliveries
// into whatever was last known.
func (c *Cache) Peek(studentID string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[studentID]
	if !ok {
		return CacheEntry{}, false
	}
	return *e, true
}

// Put stamps a fresh TTL-bound entry.
func (c *Cache) Put(studentID string, recs []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[studentID] = &CacheEntry{Records: recs, StampedAt: c.now(), TTL: c.ttl}
}

// PutLive replaces the entry with a live (not TTL-bound) view.
func (c *Cache) PutLive(studentID string, recs []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[studentID] = &CacheEntry{Records: recs, StampedAt: c.now(), TTL: c.ttl, Live: true}
}

// SetLive flips an existing entry between live and TTL-bound semantics.
func (c *Cache) SetLive(studentID string, live bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[studentID]; ok {
		e.Live = live
		if !live {
			e.StampedAt = c.now()
		}
	}
}

func (c *Cache) Invalidate(studentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, studentID)
}

// Sweep drops expired non-live entries and reports how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, e := range c.entries {
		if !e.valid(now) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}
