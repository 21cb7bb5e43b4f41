package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/imagepipe/internal/metrics"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

// BuildFunc produces the entry for a missing key. It runs at most once per key at a time.
type BuildFunc func(ctx context.Context) (pipeline.Entry, error)

// KeyedEntry pairs a key with its entry in an Entries snapshot.
type KeyedEntry struct {
	Key   string
	Entry pipeline.Entry
}

// Reader is the read-only view of the cache handed to request-serving code.
type Reader interface {
	Has(key string) bool
	Get(key string) (pipeline.Entry, bool)
}

// Cache is the transform cache. Construct one per build or serve session.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]pipeline.Entry

	flights singleflight.Group
	logger  *zap.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for build diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]pipeline.Entry),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Has reports whether key is populated.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Get returns the entry stored under key.
func (c *Cache) Get(key string) (pipeline.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Set stores entry under key unless the key is already populated. Entries are write-once, so
// it returns false and leaves the existing entry in place on conflict.
func (c *Cache) Set(key string, entry pipeline.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = entry
	return true
}

// GetOrBuild returns the entry for key, running build on a miss. Concurrent callers for the
// same key wait for a single in-flight build and receive its result. The build is detached
// from the caller's cancellation so one abandoned request cannot fail the others.
func (c *Cache) GetOrBuild(ctx context.Context, key string, build BuildFunc) (pipeline.Entry, error) {
	if entry, ok := c.Get(key); ok {
		metrics.ObserveCacheLookup("hit")
		return entry, nil
	}
	if build == nil {
		return pipeline.Entry{}, errors.New("cache: nil build func")
	}

	buildCtx := context.WithoutCancel(ctx)
	result, err, shared := c.flights.Do(key, func() (any, error) {
		// A flight for this key may have completed between the lookup above and Do.
		if entry, ok := c.Get(key); ok {
			return entry, nil
		}

		start := time.Now()
		entry, err := build(buildCtx)
		if err != nil {
			c.logger.Debug("cache build failed",
				zap.String("key", key),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return nil, err
		}

		c.mu.Lock()
		if existing, ok := c.entries[key]; ok {
			// Set raced the build; the first writer wins.
			entry = existing
		} else {
			c.entries[key] = entry
		}
		c.mu.Unlock()
		return entry, nil
	})
	if shared {
		metrics.ObserveCacheLookup("shared")
	} else {
		metrics.ObserveCacheLookup("miss")
	}
	if err != nil {
		return pipeline.Entry{}, err
	}
	entry, _ := result.(pipeline.Entry) //nolint:errcheck // always a pipeline.Entry when err is nil
	return entry, nil
}

// Len returns the number of populated keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a snapshot of all entries sorted by key.
func (c *Cache) Entries() []KeyedEntry {
	c.mu.RLock()
	out := make([]KeyedEntry, 0, len(c.entries))
	for k, v := range c.entries {
		out = append(out, KeyedEntry{Key: k, Entry: v})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
