// Package cache implements the two bounded caches of spec §4.L: the
// injection cache (string -> string, TTL + max-entries, lock-free gets) and
// the per-project fuzzy-symbol cache.
//
// Grounded on the teacher's internal/db/sqlite/store.go in-process
// caching idiom, generalized from a one-shot prepared-statement cache to a
// TTL-bounded value cache, with an optional Redis-backed tier mirroring
// the Persistence Pool's graceful-degradation convention: an unconfigured
// remote provider downgrades silently to the in-process implementation.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// entry is one injection-cache slot.
type entry struct {
	value     string
	expiresAt int64 // unix nanos
}

// Injection is a bounded string->string cache deduplicating context-
// fragment computations across rapid successive tool calls (spec §4.L).
// Gets are lock-free (sync.Map + atomic expiry check); puts may evict the
// oldest entry once at capacity.
type Injection struct {
	maxEntries int
	ttl        time.Duration

	m        sync.Map // string -> *entry
	order    sync.Map // string -> int64 (insertion sequence, for eviction)
	seq      int64
	size     int64
	redisPool *redis.Pool // nil when unconfigured
	namespace string
}

// NewInjection builds an in-process-only injection cache.
func NewInjection(maxEntries int, ttl time.Duration) *Injection {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Injection{maxEntries: maxEntries, ttl: ttl}
}

// NewInjectionWithRedis builds an injection cache backed by Redis SET...EX
// for cross-process sharing, with the in-process map as a hot local tier.
// addr == "" falls back to the in-process-only behavior of NewInjection,
// the same ProviderUnavailable downgrade policy spec §7 describes for
// embeddings.
func NewInjectionWithRedis(maxEntries int, ttl time.Duration, addr, namespace string) *Injection {
	c := NewInjection(maxEntries, ttl)
	if addr == "" {
		return c
	}
	c.namespace = namespace
	c.redisPool = &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
	}
	return c
}

// Close releases the Redis pool, if any.
func (c *Injection) Close() error {
	if c.redisPool == nil {
		return nil
	}
	return c.redisPool.Close()
}

func (c *Injection) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Get returns the cached value for key, reading the in-process tier first
// and falling through to Redis (if configured) on a local miss.
func (c *Injection) Get(ctx context.Context, key string) (string, bool) {
	if v, ok := c.m.Load(key); ok {
		e := v.(*entry)
		if time.Now().UnixNano() < e.expiresAt {
			return e.value, true
		}
		c.m.Delete(key)
		atomic.AddInt64(&c.size, -1)
	}

	if c.redisPool == nil {
		return "", false
	}
	conn, err := c.redisPool.GetContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cache.injection.redis_unavailable")
		return "", false
	}
	defer conn.Close()

	raw, err := redis.String(conn.Do("GET", c.key(key)))
	if err != nil {
		return "", false
	}
	var v string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", false
	}
	c.putLocal(key, v)
	return v, true
}

// Put stores value under key with the cache's configured TTL, evicting the
// oldest entry first if the cache is at capacity (spec P9: "after any
// sequence of puts the number of retained entries is ≤ C").
func (c *Injection) Put(ctx context.Context, key, value string) {
	c.putLocal(key, value)

	if c.redisPool == nil {
		return
	}
	conn, err := c.redisPool.GetContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cache.injection.redis_unavailable")
		return
	}
	defer conn.Close()

	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if _, err := conn.Do("SET", c.key(key), raw, "EX", int(c.ttl.Seconds())); err != nil {
		log.Warn().Err(err).Msg("cache.injection.redis_put_failed")
	}
}

func (c *Injection) putLocal(key, value string) {
	if _, existed := c.m.Load(key); !existed {
		if int(atomic.LoadInt64(&c.size)) >= c.maxEntries {
			c.evictOldest()
		}
		atomic.AddInt64(&c.size, 1)
	}
	c.m.Store(key, &entry{value: value, expiresAt: time.Now().Add(c.ttl).UnixNano()})
	c.order.Store(key, atomic.AddInt64(&c.seq, 1))
}

// evictOldest removes the entry with the smallest insertion sequence
// number. O(n) over the current entries; n is bounded by maxEntries so
// this stays cheap at the cache's intended scale (~100 entries).
func (c *Injection) evictOldest() {
	var oldestKey string
	var oldestSeq int64 = -1
	c.order.Range(func(k, v interface{}) bool {
		seq := v.(int64)
		if oldestSeq == -1 || seq < oldestSeq {
			oldestSeq = seq
			oldestKey = k.(string)
		}
		return true
	})
	if oldestKey != "" {
		c.m.Delete(oldestKey)
		c.order.Delete(oldestKey)
		atomic.AddInt64(&c.size, -1)
	}
}

// Len reports the number of locally retained entries (for tests and P9).
func (c *Injection) Len() int {
	return int(atomic.LoadInt64(&c.size))
}
