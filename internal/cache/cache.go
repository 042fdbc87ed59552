package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/kjstillabower/weather-gateway/internal/models"
)

// Cache defines the interface for weather reading caching implementations.
// Get returns the cached reading if present and not past TTL, Set stores a
// reading stamped with the current time. The TTL is fixed per cache instance.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherReading, bool, error)
	Set(ctx context.Context, key string, value models.WeatherReading) error
}

const shardCount = 32

// InMemoryCache implements Cache with a sharded map so that lookups for
// distinct keys do not contend on a single lock. Entries past TTL are removed
// on access; Sweep removes them proactively.
type InMemoryCache struct {
	shards [shardCount]*shard
	ttl    time.Duration
	now    func() time.Time
}

type shard struct {
	mu   sync.RWMutex
	data map[string]entry
}

// entry stores one cached reading with its fetch timestamp.
type entry struct {
	value     models.WeatherReading
	fetchedAt time.Time
}

// NewInMemoryCache creates an in-memory cache whose entries expire ttl after
// they were stored. An entry aged exactly ttl is still served.
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	c := &InMemoryCache{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{data: make(map[string]entry)}
	}
	return c
}

// SetClock overrides the cache's time source. For tests only.
func (c *InMemoryCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *InMemoryCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get retrieves the cached reading for key if present and within TTL.
// Returns (reading, true, nil) on hit, (zero, false, nil) on miss or expiry.
// Expired entries are deleted on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherReading, bool, error) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return models.WeatherReading{}, false, nil
	}

	if c.now().After(e.fetchedAt.Add(c.ttl)) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := s.data[key]; ok && cur.fetchedAt.Equal(e.fetchedAt) {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return models.WeatherReading{}, false, nil
	}

	return e.value, true, nil
}

// Set unconditionally replaces any existing entry for key, stamping it with
// the current time.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherReading) error {
	s := c.shardFor(key)
	s.mu.Lock()
	s.data[key] = entry{value: value, fetchedAt: c.now()}
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries currently stored, expired or not.
func (c *InMemoryCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n
}

// Sweep removes all expired entries and returns how many were evicted.
func (c *InMemoryCache) Sweep() int {
	now := c.now()
	evicted := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.data {
			if now.After(e.fetchedAt.Add(c.ttl)) {
				delete(s.data, k)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// SweepPeriodic runs Sweep at the given interval until ctx is done.
func (c *InMemoryCache) SweepPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
