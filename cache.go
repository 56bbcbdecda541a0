package tracker

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const defaultCacheShards = 16

// ErrInvalidTTL is returned by Set when the TTL is not positive.
var ErrInvalidTTL = errors.New("tracker: cache TTL must be positive")

// CacheEntry is one stored value with its insertion time and TTL.
type CacheEntry struct {
	Value      any
	InsertedAt time.Time
	TTL        time.Duration
}

// Expired reports whether the entry is past its TTL at now. An entry read
// exactly at InsertedAt+TTL is still fresh.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// ResponseCache is a process-wide, sharded, in-memory TTL cache. Expired
// entries are evicted lazily when read; there is no background sweeper.
// It is safe for concurrent use.
type ResponseCache struct {
	shards []*cacheShard
	clock  Clock
}

type cacheShard struct {
	mu    sync.Mutex
	store map[string]CacheEntry
}

// NewResponseCache creates an empty cache. A nil clock uses SystemClock.
func NewResponseCache(clock Clock) *ResponseCache {
	if clock == nil {
		clock = SystemClock
	}
	shards := make([]*cacheShard, defaultCacheShards)
	for i := range shards {
		shards[i] = &cacheShard{store: make(map[string]CacheEntry)}
	}
	return &ResponseCache{shards: shards, clock: clock}
}

func (c *ResponseCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the value for key if it is still fresh. Expired entries are
// removed and reported as a miss.
func (c *ResponseCache) Get(key string) (any, bool) {
	entry, ok := c.Entry(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Entry is Get returning the full entry.
func (c *ResponseCache) Entry(key string) (CacheEntry, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.store[key]
	if !ok {
		return CacheEntry{}, false
	}
	if entry.Expired(c.clock.Now()) {
		delete(s.store, key)
		return CacheEntry{}, false
	}
	return entry, true
}

// Set stores value under key, replacing any previous entry and resetting
// its insertion time.
func (c *ResponseCache) Set(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s := c.shard(key)
	s.mu.Lock()
	s.store[key] = CacheEntry{Value: value, InsertedAt: c.clock.Now(), TTL: ttl}
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (c *ResponseCache) Delete(key string) {
	s := c.shard(key)
	s.mu.Lock()
	delete(s.store, key)
	s.mu.Unlock()
}

// Clear removes every entry.
func (c *ResponseCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.store = make(map[string]CacheEntry)
		s.mu.Unlock()
	}
}

// Size returns the number of stored entries, including expired entries not
// yet read.
func (c *ResponseCache) Size() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.store)
		s.mu.Unlock()
	}
	return n
}

// Keys lists stored keys in sorted order.
func (c *ResponseCache) Keys() []string {
	var keys []string
	for _, s := range c.shards {
		s.mu.Lock()
		for k := range s.store {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}
