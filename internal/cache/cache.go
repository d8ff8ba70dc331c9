// Package cache keeps query results under invalidation tags. A mutation
// invalidates tags; every cached query whose tags intersect them is refetched
// on next access while the others stay valid.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tag labels a cached result. An empty ID addresses every tag of the type.
type Tag struct {
	Type string
	ID   string
}

func (t Tag) String() string {
	if t.ID == "" {
		return t.Type + "/*"
	}
	return t.Type + "/" + t.ID
}

// TypeTag addresses every tag of the given type.
func TypeTag(typ string) Tag { return Tag{Type: typ} }

// Fetcher loads a value and reports the tags it should be cached under.
type Fetcher func(ctx context.Context) (any, []Tag, error)

type entry struct {
	value    any
	tags     []Tag
	hasValue bool
	stale    bool
	lastErr  error
	lastUsed time.Time
	storedAt time.Time
}

// Cache is safe for concurrent use. Every change to its tables happens under
// one mutex; fetches run outside it.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	byTag      map[Tag]map[string]struct{}
	byType     map[string]map[string]struct{}
	tagSeq     map[Tag]uint64
	typeSeq    map[string]uint64
	seq        uint64
	group      singleflight.Group
	keepUnused time.Duration
	nowFn      func() time.Time
	logger     *slog.Logger
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source, mainly for sweep tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.nowFn = now
		}
	}
}

// New builds a cache that drops entries unused for keepUnused.
func New(logger *slog.Logger, keepUnused time.Duration, opts ...Option) *Cache {
	if keepUnused <= 0 {
		keepUnused = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		entries:    make(map[string]*entry),
		byTag:      make(map[Tag]map[string]struct{}),
		byType:     make(map[string]map[string]struct{}),
		tagSeq:     make(map[Tag]uint64),
		typeSeq:    make(map[string]uint64),
		keepUnused: keepUnused,
		nowFn:      time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, fetching it when missing or stale.
// Concurrent callers for the same key share one fetch. A caller that arrives
// after an invalidation never receives a shared fetch that began before it;
// it waits for that fetch and then fetches again. When the fetch fails the
// last good value, if any, is returned together with the error. When ctx ends
// the caller stops waiting; the shared fetch still completes and fills the
// cache.
func (c *Cache) Get(ctx context.Context, key string, fetch Fetcher) (any, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && e.hasValue && !e.stale {
			e.lastUsed = c.nowFn()
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		issued := c.seq
		c.mu.Unlock()

		ch := c.group.DoChan(key, func() (any, error) {
			c.mu.Lock()
			start := c.seq
			c.mu.Unlock()

			c.logger.Debug("cache fetch", "key", key)
			v, tags, err := fetch(context.WithoutCancel(ctx))
			c.store(key, start, v, tags, err)
			return fetched{value: v, tags: tags, start: start}, err
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				last, _ := c.Peek(key)
				return last, res.Err
			}
			f := res.Val.(fetched)
			if c.predates(f, issued) {
				c.logger.Debug("cache refetch after invalidation", "key", key)
				continue
			}
			return f.value, nil
		case <-ctx.Done():
			last, _ := c.Peek(key)
			return last, ctx.Err()
		}
	}
}

// fetched is the result shared by every caller of one fetch.
type fetched struct {
	value any
	tags  []Tag
	start uint64
}

// predates reports whether f began before an invalidation of its tags that
// happened no later than issued. The caller that issued at that point has
// already seen the write, so f is too old for it.
func (c *Cache) predates(f fetched, issued uint64) bool {
	if f.start >= issued {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidatedSince(f.tags, f.start)
}

func (c *Cache) store(key string, start uint64, v any, tags []Tag, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.lastUsed = now
	if err != nil {
		e.lastErr = err
		return
	}

	c.unindex(key, e.tags)
	e.value = v
	e.tags = append([]Tag(nil), tags...)
	e.hasValue = true
	e.lastErr = nil
	e.storedAt = now
	e.stale = c.invalidatedSince(tags, start)
	c.index(key, e.tags)
}

// invalidatedSince reports whether any of tags was invalidated after seq.
// Such a result was fetched before the write landed and must not be trusted.
func (c *Cache) invalidatedSince(tags []Tag, seq uint64) bool {
	for _, t := range tags {
		if c.tagSeq[t] > seq || c.typeSeq[t.Type] > seq {
			return true
		}
	}
	return false
}

func (c *Cache) index(key string, tags []Tag) {
	for _, t := range tags {
		if c.byTag[t] == nil {
			c.byTag[t] = make(map[string]struct{})
		}
		c.byTag[t][key] = struct{}{}
		if c.byType[t.Type] == nil {
			c.byType[t.Type] = make(map[string]struct{})
		}
		c.byType[t.Type][key] = struct{}{}
	}
}

func (c *Cache) unindex(key string, tags []Tag) {
	for _, t := range tags {
		if keys := c.byTag[t]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byTag, t)
			}
		}
		if keys := c.byType[t.Type]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byType, t.Type)
			}
		}
	}
}

// Invalidate marks every entry carrying one of tags as stale and returns the
// affected keys. A tag with an empty ID matches the whole type.
func (c *Cache) Invalidate(tags ...Tag) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	hit := make(map[string]struct{})
	for _, t := range tags {
		var keys map[string]struct{}
		if t.ID == "" {
			c.typeSeq[t.Type] = c.seq
			keys = c.byType[t.Type]
		} else {
			c.tagSeq[t] = c.seq
			keys = c.byTag[t]
		}
		for k := range keys {
			hit[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(hit))
	for k := range hit {
		if e := c.entries[k]; e != nil {
			e.stale = true
		}
		out = append(out, k)
	}
	if len(out) > 0 {
		c.logger.Debug("cache invalidated", "tags", fmt.Sprint(tags), "keys", len(out))
	}
	return out
}

// MarkStale forces the next Get of key to refetch. Used by explicit retries.
func (c *Cache) MarkStale(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[key]; e != nil {
		e.stale = true
	}
}

// Peek returns the last good value for key without fetching, stale or not.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.hasValue {
		return nil, false
	}
	return e.value, true
}

// State describes one entry for diagnostics.
type State struct {
	Key      string    `json:"key"`
	Tags     []string  `json:"tags"`
	Stale    bool      `json:"stale"`
	HasValue bool      `json:"hasValue"`
	LastErr  string    `json:"lastError,omitempty"`
	StoredAt time.Time `json:"storedAt"`
}

// Inspect returns the state of key.
func (c *Cache) Inspect(key string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return State{}, false
	}
	return stateOf(key, e), true
}

// Snapshot lists every entry.
func (c *Cache) Snapshot() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, stateOf(k, e))
	}
	return out
}

func stateOf(key string, e *entry) State {
	s := State{Key: key, Stale: e.stale, HasValue: e.hasValue, StoredAt: e.storedAt}
	for _, t := range e.tags {
		s.Tags = append(s.Tags, t.String())
	}
	if e.lastErr != nil {
		s.LastErr = e.lastErr.Error()
	}
	return s
}

// Sweep evicts entries unused for longer than the keep-unused window and
// returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.nowFn().Add(-c.keepUnused)
	evicted := 0
	for k, e := range c.entries {
		if e.lastUsed.After(cutoff) {
			continue
		}
		c.unindex(k, e.tags)
		delete(c.entries, k)
		evicted++
	}
	return evicted
}

// Run sweeps on every tick until ctx ends.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.keepUnused / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("cache sweep", "evicted", n)
			}
		}
	}
}

// Query is Get with a typed result.
func Query[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, []Tag, error)) (T, error) {
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, []Tag, error) {
		return fetch(ctx)
	})
	typed, _ := v.(T)
	return typed, err
}
