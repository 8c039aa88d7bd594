// Package cache provides a bounded in-memory cache with per-entry expiry and a
// read-through GetOrCreate that collapses concurrent misses for the same key.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL        = 10 * time.Minute
	DefaultMaxEntries = 10000
)

// ErrNilFactory is returned by GetOrCreate when no factory is supplied.
var ErrNilFactory = errors.New("cache factory is required")

// Factory produces the value for a missing key. Returning ok=false means the
// value does not exist; that outcome is never cached.
type Factory[V any] func(ctx context.Context) (value V, ok bool, err error)

// Options configures a Cache. Zero values fall back to package defaults.
type Options struct {
	DefaultTTL time.Duration
	MaxEntries int
	Now        func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type flightResult[V any] struct {
	value V
	ok    bool
}

// flight marks a factory run for one key. Set and Remove invalidate it so a
// value read before them is never stored after them.
type flight struct {
	invalidated bool
}

// Cache is a string-keyed cache of V values. It is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, entry[V]]
	flights map[string]*flight
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
}

// New builds an empty cache.
func New[V any](opts Options) (*Cache[V], error) {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	entries, err := simplelru.NewLRU[string, entry[V]](opts.MaxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache[V]{
		entries: entries,
		flights: make(map[string]*flight),
		ttl:     opts.DefaultTTL,
		now:     opts.Now,
	}, nil
}

// DefaultTTL returns the TTL applied when callers pass ttl <= 0.
func (c *Cache[V]) DefaultTTL() time.Duration {
	return c.ttl
}

// Set stores value under key until now+ttl, replacing any existing entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) V {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.invalidateLocked(key)
	c.entries.Add(key, entry[V]{value: value, expiresAt: c.now().Add(ttl)})
	c.mu.Unlock()
	return value
}

// Remove deletes key. Missing keys are ignored. A GetOrCreate already running
// for key does not store its result, and later callers start a fresh lookup.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	c.invalidateLocked(key)
	c.entries.Remove(key)
	c.mu.Unlock()
	c.group.Forget(key)
}

func (c *Cache[V]) invalidateLocked(key string) {
	if f, ok := c.flights[key]; ok {
		f.invalidated = true
		delete(c.flights, key)
	}
}

func (c *Cache[V]) beginFlight(key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := &flight{}
	c.flights[key] = f
	return f
}

// finishFlight stores value unless f was invalidated while the factory ran.
func (c *Cache[V]) finishFlight(key string, f *flight, value V, ok bool, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.invalidated {
		return
	}
	delete(c.flights, key)
	if ok {
		c.entries.Add(key, entry[V]{value: value, expiresAt: c.now().Add(ttl)})
	}
}

// Get returns the live value for key. Expired entries are evicted.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

// GetOrCreate returns the live value for key, or runs factory and caches a
// found value for ttl. Concurrent callers missing on the same key share one
// factory execution. Each caller stops waiting when its own ctx is done.
func (c *Cache[V]) GetOrCreate(ctx context.Context, key string, factory Factory[V], ttl time.Duration) (V, bool, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	if factory == nil {
		return zero, false, ErrNilFactory
	}

	for {
		ch := c.group.DoChan(key, func() (any, error) {
			if v, ok := c.Get(key); ok {
				return flightResult[V]{value: v, ok: true}, nil
			}
			f := c.beginFlight(key)
			v, ok, err := factory(ctx)
			if err != nil {
				ok = false
			}
			c.finishFlight(key, f, v, ok, ttl)
			if err != nil {
				return nil, err
			}
			if !ok {
				return flightResult[V]{}, nil
			}
			return flightResult[V]{value: v, ok: true}, nil
		})

		select {
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The flight ran on another caller's context; retry with ours.
				if res.Shared && isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				return zero, false, res.Err
			}
			out := res.Val.(flightResult[V])
			return out.value, out.ok, nil
		}
	}
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	for key := range c.flights {
		c.invalidateLocked(key)
	}
	c.entries.Purge()
	c.mu.Unlock()
}

// PurgeExpired evicts expired entries and returns how many were removed.
func (c *Cache[V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && !now.Before(e.expiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// RunJanitor evicts expired entries every interval until ctx is done.
func (c *Cache[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PurgeExpired()
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
