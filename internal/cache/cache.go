package cache

import (
	"strings"
	"sync"
	"time"

	"voyaj-api/internal/observability"
)

const (
	defaultMaxEntries      = 1000
	defaultCleanupInterval = 5 * time.Minute
)

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

type Options struct {
	MaxEntries      int
	CleanupInterval time.Duration
	Logger          *observability.Logger
}

// Cache is a process-wide expiring key/value store. Entries expire lazily on
// read and physically through a background reaper; insertion past MaxEntries
// evicts the oldest entry by creation time. All methods are safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	maxEntries int
	logger     *observability.Logger

	evictions    int64
	expiredSwept int64

	stop     chan struct{}
	stopOnce sync.Once
}

type Stats struct {
	Entries      int   `json:"entries"`
	MaxEntries   int   `json:"max_entries"`
	Evictions    int64 `json:"evictions"`
	ExpiredSwept int64 `json:"expired_swept"`
}

func New(options Options) *Cache {
	if options.MaxEntries <= 0 {
		options.MaxEntries = defaultMaxEntries
	}
	if options.CleanupInterval <= 0 {
		options.CleanupInterval = defaultCleanupInterval
	}

	c := &Cache{
		entries:    make(map[string]entry),
		maxEntries: options.MaxEntries,
		logger:     options.Logger,
		stop:       make(chan struct{}),
	}

	go c.reap(options.CleanupInterval)

	return c
}

// Close stops the background reaper. Entries remain readable until they expire.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Set inserts or overwrites. A ttl <= 0 stores an entry that is already
// expired: it is unobservable through Get/Has but may occupy a slot until the
// next sweep. Eviction only triggers when a new key would exceed capacity,
// never on overwrite.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	if ttl <= 0 {
		expiresAt = now.Add(-time.Nanosecond)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = entry{value: value, createdAt: now, expiresAt: expiresAt}
}

// Get returns the live value for key. A missing or expired key is a normal
// miss, not an error; expired entries are removed on the spot.
func (c *Cache) Get(key string) (any, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(c.entries, key)
		return nil, false
	}

	return e.value, true
}

func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// GetOrCompute returns the cached value for key, or runs fn and caches its
// result with ttl. Concurrent misses for the same key are not serialized:
// each caller may run fn once and the last write wins. Call sites keep fn
// cheap and idempotent.
func (c *Cache) GetOrCompute(key string, fn func() (any, error), ttl time.Duration) (any, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}

	c.Set(key, value, ttl)
	return value, nil
}

// Increment bumps the int64 counter at key and returns the new count. An
// absent or expired counter restarts at 1 with expiry now+window; a live
// counter keeps its original expiry, so the window is fixed at first hit.
func (c *Cache) Increment(key string, window time.Duration) int64 {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && !e.expired(now) {
		count, _ := e.value.(int64)
		count++
		e.value = count
		c.entries[key] = e
		return count
	}

	if !ok && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	expiresAt := now.Add(window)
	if window <= 0 {
		expiresAt = now.Add(-time.Nanosecond)
	}
	c.entries[key] = entry{value: int64(1), createdAt: now, expiresAt: expiresAt}
	return 1
}

// InvalidatePrefix removes every live entry whose key starts with prefix and
// returns how many were removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		live := !e.expired(now)
		delete(c.entries, key)
		if live {
			removed++
		}
	}

	return removed
}

// Range calls fn for every live entry over a snapshot taken under the lock,
// so fn may call back into the cache. Iteration stops when fn returns false.
func (c *Cache) Range(fn func(key string, value any) bool) {
	now := time.Now()

	c.mu.Lock()
	type pair struct {
		key   string
		value any
	}
	snapshot := make([]pair, 0, len(c.entries))
	for key, e := range c.entries {
		if e.expired(now) {
			continue
		}
		snapshot = append(snapshot, pair{key: key, value: e.value})
	}
	c.mu.Unlock()

	for _, p := range snapshot {
		if !fn(p.key, p.value) {
			return
		}
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:      len(c.entries),
		MaxEntries:   c.maxEntries,
		Evictions:    c.evictions,
		ExpiredSwept: c.expiredSwept,
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	found := false

	for key, e := range c.entries {
		if !found || e.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.createdAt
			found = true
		}
	}

	if found {
		delete(c.entries, oldestKey)
		c.evictions++
		c.debug("cache_evicted_oldest", map[string]any{"key": oldestKey})
	}
}

func (c *Cache) reap(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes physically-expired entries. A panic from one pass is logged
// and must not stop future sweeps.
func (c *Cache) sweep() {
	defer func() {
		if rec := recover(); rec != nil && c.logger != nil {
			c.logger.Error("cache_sweep_panic", map[string]any{"panic": rec})
		}
	}()

	now := time.Now()

	c.mu.Lock()
	swept := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			swept++
		}
	}
	c.expiredSwept += int64(swept)
	c.mu.Unlock()

	if swept > 0 {
		c.debug("cache_sweep", map[string]any{"removed": swept})
	}
}

func (c *Cache) debug(message string, fields map[string]any) {
	if c.logger != nil {
		c.logger.Debug(message, fields)
	}
}
