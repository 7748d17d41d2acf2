package jlhttp

import (
	"hash/fnv"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCacheTTL bounds entry lifetime when no override is given.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultSweepInterval is the period of the background expiry sweep.
	DefaultSweepInterval = 2 * time.Second

	// MinTTL is the smallest TTL or sweep interval the cache accepts.
	MinTTL = time.Millisecond

	cacheShardCount = 16
)

// cacheEntry is one memoized settled result: the value or error captured at
// a point in time, together with the parameters it answers for.
type cacheEntry struct {
	params     any
	value      any
	err        error
	capturedAt time.Time
	ttl        time.Duration // 0 means the instance default applies
}

// expired reports whether the entry outlived its effective TTL.
func (e *cacheEntry) expired(now time.Time, defaultTTL time.Duration) bool {
	ttl := e.ttl
	if ttl == 0 {
		ttl = defaultTTL
	}
	return now.Sub(e.capturedAt) >= ttl
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// ResponseCache memoizes settled results keyed by URL plus a deep-equal
// parameters value. There is one entry per URL: storing under an existing
// URL replaces the entry wholesale, and a lookup whose parameters do not
// deep-equal the stored ones is a miss, never a merge.
//
// Expiry is checked lazily on every access; removal is done by a background
// sweep goroutine owned by the instance, started at construction and
// stopped by Close. Lookups never coalesce: two concurrent misses for the
// same URL both fall through to the caller's origin. Use the engine's
// deduplication service when coalescing is wanted.
type ResponseCache struct {
	shards   [cacheShardCount]*cacheShard
	ttl      atomic.Int64 // nanoseconds
	sweep    time.Duration
	logger   Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// CacheOption configures a ResponseCache at construction.
type CacheOption func(*ResponseCache)

// WithDefaultTTL sets the instance default TTL. Values below MinTTL are
// rejected during construction with a warning, keeping the prior default.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *ResponseCache) {
		c.setDefaultTTL(ttl)
	}
}

// WithSweepInterval sets the background sweep period. Values below MinTTL
// are rejected during construction with a warning, keeping the prior value.
func WithSweepInterval(interval time.Duration) CacheOption {
	return func(c *ResponseCache) {
		if interval < MinTTL {
			c.logger.Warn("Ignoring sweep interval below minimum", "interval", interval, "min", MinTTL)
			return
		}
		c.sweep = interval
	}
}

// WithCacheLogging routes cache warnings to the given logger. Order
// matters: place it before options whose validation should be visible.
func WithCacheLogging(logger Logger) CacheOption {
	return func(c *ResponseCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewResponseCache creates a cache and starts its sweep goroutine.
func NewResponseCache(opts ...CacheOption) *ResponseCache {
	c := &ResponseCache{
		sweep:  DefaultSweepInterval,
		logger: NewNopLogger(),
		stop:   make(chan struct{}),
	}
	c.ttl.Store(int64(DefaultCacheTTL))
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]*cacheEntry)}
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.sweepLoop()
	return c
}

// Get returns the memoized result for url when an entry exists, its stored
// parameters deep-equal params, and its TTL has not elapsed. Every other
// case is a miss: ok is false and both value and err are nil. A hit on a
// memoized failure returns ok true with the stored error.
func (c *ResponseCache) Get(url string, params any) (value any, err error, ok bool) {
	shard := c.shard(url)
	shard.mu.RLock()
	entry, found := shard.entries[url]
	shard.mu.RUnlock()

	if !found {
		return nil, nil, false
	}
	if entry.expired(time.Now(), c.defaultTTL()) {
		return nil, nil, false
	}
	if !reflect.DeepEqual(entry.params, params) {
		return nil, nil, false
	}
	return entry.value, entry.err, true
}

// Set memoizes a success under url with the instance default TTL,
// replacing any previous entry for that URL.
func (c *ResponseCache) Set(url string, params, value any) {
	c.put(url, &cacheEntry{params: params, value: value, capturedAt: time.Now()})
}

// SetWithTTL is Set with a per-entry TTL override. Overrides below MinTTL
// are logged and ignored in favor of the instance default.
func (c *ResponseCache) SetWithTTL(url string, params, value any, ttl time.Duration) {
	c.put(url, &cacheEntry{params: params, value: value, capturedAt: time.Now(), ttl: c.admitTTL(ttl)})
}

// SetError memoizes a failure under url; a later matching Get replays err.
func (c *ResponseCache) SetError(url string, params any, err error) {
	c.put(url, &cacheEntry{params: params, err: err, capturedAt: time.Now()})
}

// Delete removes the entry for url, if any.
func (c *ResponseCache) Delete(url string) {
	shard := c.shard(url)
	shard.mu.Lock()
	delete(shard.entries, url)
	shard.mu.Unlock()
}

// Clear removes every entry.
func (c *ResponseCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.entries = make(map[string]*cacheEntry)
		shard.mu.Unlock()
	}
}

// Len reports how many entries are stored, expired or not.
func (c *ResponseCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// SetDefaultTTL replaces the instance default TTL at runtime. Values below
// MinTTL are logged and ignored, keeping the previous value.
func (c *ResponseCache) SetDefaultTTL(ttl time.Duration) {
	c.setDefaultTTL(ttl)
}

// DefaultTTL returns the current instance default TTL.
func (c *ResponseCache) DefaultTTL() time.Duration {
	return c.defaultTTL()
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *ResponseCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *ResponseCache) setDefaultTTL(ttl time.Duration) {
	if ttl < MinTTL {
		c.logger.Warn("Ignoring default TTL below minimum", "ttl", ttl, "min", MinTTL)
		return
	}
	c.ttl.Store(int64(ttl))
}

func (c *ResponseCache) defaultTTL() time.Duration {
	return time.Duration(c.ttl.Load())
}

// admitTTL validates a per-entry override; invalid overrides fall back to
// the instance default (entry ttl 0).
func (c *ResponseCache) admitTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		c.logger.Warn("Ignoring cache TTL override below minimum", "ttl", ttl, "min", MinTTL)
		return 0
	}
	return ttl
}

func (c *ResponseCache) put(url string, entry *cacheEntry) {
	shard := c.shard(url)
	shard.mu.Lock()
	shard.entries[url] = entry
	shard.mu.Unlock()
}

func (c *ResponseCache) shard(url string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(url))
	return c.shards[h.Sum32()%cacheShardCount]
}

func (c *ResponseCache) sweepLoop() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired(time.Now())
		}
	}
}

// removeExpired drops every entry past its TTL. Expired entries that Get
// already reported as misses linger at most one sweep period.
func (c *ResponseCache) removeExpired(now time.Time) {
	defaultTTL := c.defaultTTL()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.expired(now, defaultTTL) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	if removed > 0 {
		c.logger.Debug("Cache sweep removed expired entries", "removed", removed)
	}
}
