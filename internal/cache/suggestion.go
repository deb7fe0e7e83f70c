// Package cache memoizes circle suggestions per (user, contact, mode) for a
// short TTL so repeated analyses do not hit the signal sources.
//
// Entries live in a bounded in-process LRU. When a Redis client is supplied
// it acts as a shared second tier across engine instances.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/jsonx"
	"github.com/circle-kernel/internal/metrics"
)

// Key identifies a cached suggestion.
type Key struct {
	UserID    string
	ContactID string
	Mode      circles.Mode
}

func (k Key) String() string {
	return k.UserID + ":" + k.ContactID + ":" + string(k.Mode)
}

// KeysForContact returns the keys of every mode for one contact.
func KeysForContact(userID, contactID string) []Key {
	return []Key{
		{UserID: userID, ContactID: contactID, Mode: circles.ModeSteadyState},
		{UserID: userID, ContactID: contactID, Mode: circles.ModeOnboarding},
	}
}

// ComputeFunc produces a fresh suggestion on a miss.
type ComputeFunc func(ctx context.Context) (circles.CircleSuggestion, error)

// Options configures a SuggestionCache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Redis enables the shared tier when non-nil.
	Redis       *redis.Client
	RedisPrefix string
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	L2Hits  int64 `json:"l2_hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

type flight struct {
	stale bool
}

type entry struct {
	Suggestion circles.CircleSuggestion `json:"suggestion"`
	ComputedAt time.Time                `json:"computed_at"`
}

// SuggestionCache is safe for concurrent use.
type SuggestionCache struct {
	entries *lru.Cache[Key, entry]
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
	l2      *redis.Client
	prefix  string
	logger  *zap.Logger

	// pending tracks running computations per key. Invalidating a key marks
	// its flight stale; a stale result is returned but not stored.
	mu      sync.Mutex
	pending map[Key]*flight

	hits   atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64
}

// New creates a cache.
func New(opts Options, logger *zap.Logger) (*SuggestionCache, error) {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.RedisPrefix == "" {
		opts.RedisPrefix = "circles:suggestion"
	}
	entries, err := lru.New[Key, entry](opts.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create suggestion cache: %w", err)
	}
	return &SuggestionCache{
		entries: entries,
		ttl:     opts.TTL,
		now:     opts.Clock,
		l2:      opts.Redis,
		prefix:  opts.RedisPrefix,
		pending: make(map[Key]*flight),
		logger:  logger.Named("suggestion_cache"),
	}, nil
}

// Get returns a fresh entry without computing.
func (c *SuggestionCache) Get(ctx context.Context, key Key) (circles.CircleSuggestion, bool) {
	if s, ok := c.local(key); ok {
		return s, true
	}
	return c.remote(ctx, key)
}

// GetOrCompute returns the cached suggestion for key while it is younger than
// the TTL. Otherwise it runs compute once per key, even under concurrent
// callers, and stores the result. The boolean reports a cache hit.
func (c *SuggestionCache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (circles.CircleSuggestion, bool, error) {
	if s, ok := c.local(key); ok {
		c.hits.Add(1)
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return s, true, nil
	}

	type result struct {
		s   circles.CircleSuggestion
		hit bool
	}
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// Another flight may have stored the entry while we waited.
		if s, ok := c.local(key); ok {
			return result{s, true}, nil
		}
		if s, ok := c.remote(ctx, key); ok {
			return result{s, true}, nil
		}

		f := c.begin(key)
		s, err := compute(ctx)
		if err != nil {
			c.finish(key, f, nil)
			return nil, err
		}
		if c.finish(key, f, &s) {
			c.share(ctx, key, s)
		}
		return result{s, false}, nil
	})
	if err != nil {
		c.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return circles.CircleSuggestion{}, false, err
	}

	r := v.(result)
	if r.hit {
		c.hits.Add(1)
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		c.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	return r.s, r.hit, nil
}

// InvalidateContact evicts every mode's entry for one contact.
func (c *SuggestionCache) InvalidateContact(ctx context.Context, userID, contactID string) {
	c.Invalidate(ctx, KeysForContact(userID, contactID)...)
}

// Invalidate evicts the given keys from both tiers. Computations already
// running for those keys are not stored, and later callers start a new one
// instead of joining them.
func (c *SuggestionCache) Invalidate(ctx context.Context, keys ...Key) {
	if len(keys) == 0 {
		return
	}
	c.mu.Lock()
	for _, k := range keys {
		if f, ok := c.pending[k]; ok {
			f.stale = true
		}
		c.group.Forget(k.String())
	}
	c.mu.Unlock()
	for _, k := range keys {
		if c.entries.Remove(k) {
			metrics.CacheInvalidations.Inc()
		}
	}
	if c.l2 == nil {
		return
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = c.redisKey(k)
	}
	if err := c.l2.Del(ctx, names...).Err(); err != nil {
		c.logger.Warn("Failed to invalidate shared cache",
			zap.Strings("keys", names),
			zap.Error(err))
	}
}

// Purge drops every local entry.
func (c *SuggestionCache) Purge() {
	c.mu.Lock()
	for k, f := range c.pending {
		f.stale = true
		c.group.Forget(k.String())
	}
	c.mu.Unlock()
	c.entries.Purge()
}

func (c *SuggestionCache) begin(key Key) *flight {
	f := &flight{}
	c.mu.Lock()
	c.pending[key] = f
	c.mu.Unlock()
	return f
}

// finish unregisters f and, unless it went stale, stores s locally. It
// reports whether s was stored.
func (c *SuggestionCache) finish(key Key, f *flight, s *circles.CircleSuggestion) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] == f {
		delete(c.pending, key)
	}
	if f.stale || s == nil {
		return false
	}
	c.entries.Add(key, entry{Suggestion: *s, ComputedAt: c.now()})
	return true
}

// Stats returns counters since creation.
func (c *SuggestionCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		L2Hits:  c.l2Hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.entries.Len(),
	}
}

func (c *SuggestionCache) local(key Key) (circles.CircleSuggestion, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return circles.CircleSuggestion{}, false
	}
	if !c.fresh(e) {
		c.entries.Remove(key)
		return circles.CircleSuggestion{}, false
	}
	return e.Suggestion, true
}

func (c *SuggestionCache) remote(ctx context.Context, key Key) (circles.CircleSuggestion, bool) {
	if c.l2 == nil {
		return circles.CircleSuggestion{}, false
	}
	data, err := c.l2.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Shared cache read failed", zap.String("key", key.String()), zap.Error(err))
		}
		return circles.CircleSuggestion{}, false
	}
	var e entry
	if err := jsonx.Unmarshal(data, &e); err != nil {
		c.logger.Warn("Discarding undecodable shared cache entry", zap.String("key", key.String()), zap.Error(err))
		return circles.CircleSuggestion{}, false
	}
	if !c.fresh(e) {
		return circles.CircleSuggestion{}, false
	}
	c.entries.Add(key, e)
	c.l2Hits.Add(1)
	metrics.CacheLookups.WithLabelValues("l2_hit").Inc()
	return e.Suggestion, true
}

func (c *SuggestionCache) share(ctx context.Context, key Key, s circles.CircleSuggestion) {
	e := entry{Suggestion: s, ComputedAt: c.now()}
	if c.l2 == nil {
		return
	}
	data, err := jsonx.Marshal(e)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.String("key", key.String()), zap.Error(err))
		return
	}
	if err := c.l2.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to write shared cache", zap.String("key", key.String()), zap.Error(err))
	}
}

func (c *SuggestionCache) fresh(e entry) bool {
	return c.now().Sub(e.ComputedAt) < c.ttl
}

func (c *SuggestionCache) redisKey(k Key) string {
	return c.prefix + ":" + k.String()
}
