package sink

import (
	"sync"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

// sweepInterval is how often the background sweep removes expired
// entries.
const sweepInterval = 60 * time.Second

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

type cacheEntry struct {
	record    canonical.Record
	expiresAt time.Time
}

// Cache is a bounded TTL map of the latest record per device. When an
// insert exceeds maxSize, the entry with the earliest expiration is
// evicted.
//
// Thread Safety: safe for concurrent use.
type Cache struct {
	log *logging.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry

	maxSize int
	ttl     time.Duration

	hits      uint64
	misses    uint64
	evictions uint64

	// onExpired, when set, observes keys removed by the sweep.
	onExpired func(key string)

	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewCache creates a cache with the given capacity and default TTL.
func NewCache(log *logging.Logger, maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		log:     log.With("component", "cache"),
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// OnExpired registers an observer for entries removed by the sweep.
// Must be called before Start.
func (c *Cache) OnExpired(fn func(key string)) {
	c.onExpired = fn
}

// Set stores the record under the key with the default TTL.
func (c *Cache) Set(key string, rec canonical.Record) {
	c.SetTTL(key, rec, c.ttl)
}

// SetTTL stores the record with an explicit TTL. Inserting beyond
// maxSize evicts the entry with the earliest expiration.
func (c *Cache) SetTTL(key string, rec canonical.Record, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictEarliestLocked()
	}
	c.entries[key] = cacheEntry{
		record:    rec,
		expiresAt: c.now().Add(ttl),
	}
}

// Get returns the record for the key. Expired entries are removed and
// reported as misses.
func (c *Cache) Get(key string) (canonical.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return canonical.Record{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return canonical.Record{}, false
	}

	c.hits++
	return entry.record, true
}

// Keys returns the keys of all live entries.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	keys := make([]string, 0, len(c.entries))
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Stats returns a counter snapshot.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

// Start launches the periodic expiry sweep.
func (c *Cache) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.done:
				return
			}
		}
	}()
}

// Stop terminates the sweep goroutine.
func (c *Cache) Stop() {
	close(c.done)
	c.wg.Wait()
}

// sweep removes all expired entries.
func (c *Cache) sweep() {
	c.mu.Lock()
	now := c.now()
	var expired []string
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			expired = append(expired, key)
		}
	}
	c.mu.Unlock()

	if len(expired) > 0 {
		c.log.Debug("cache sweep removed expired entries", "count", len(expired))
		if c.onExpired != nil {
			for _, key := range expired {
				c.onExpired(key)
			}
		}
	}
}

// evictEarliestLocked removes the entry with the earliest expiration.
// Caller holds the write lock.
func (c *Cache) evictEarliestLocked() {
	var (
		victim   string
		earliest time.Time
		found    bool
	)
	for key, entry := range c.entries {
		if !found || entry.expiresAt.Before(earliest) {
			victim = key
			earliest = entry.expiresAt
			found = true
		}
	}
	if found {
		delete(c.entries, victim)
		c.evictions++
	}
}
