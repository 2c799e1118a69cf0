// Package cache provides the TTL regions that sit in front of the store.
//
// A region is an unordered map from key to (value, insert timestamp). Entries
// expire after the region TTL; a background sweeper drops expired entries so
// idle regions do not grow unbounded. The cache is strictly subordinate to
// the store: writers invalidate, readers repopulate, and stale reads up to
// the TTL are acceptable.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Region is a single TTL cache region with string keys.
// It is safe for concurrent readers and writers.
type Region[V any] struct {
	name    string
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry[V]

	hits   uint64
	misses uint64
}

// NewRegion creates a region with the given TTL.
func NewRegion[V any](name string, ttl time.Duration) *Region[V] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Region[V]{
		name:    name,
		ttl:     ttl,
		entries: make(map[string]entry[V]),
	}
}

func (r *Region[V]) Name() string { return r.name }

// Get returns the cached value if present and younger than the TTL.
// Expired entries are dropped lazily and counted as misses.
func (r *Region[V]) Get(key string) (V, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()

	if ok && time.Since(e.insertedAt) <= r.ttl {
		r.mu.Lock()
		r.hits++
		r.mu.Unlock()
		return e.value, true
	}

	r.mu.Lock()
	r.misses++
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	var zero V
	return zero, false
}

// Set stores a value, resetting its age.
func (r *Region[V]) Set(key string, value V) {
	r.mu.Lock()
	r.entries[key] = entry[V]{value: value, insertedAt: time.Now()}
	r.mu.Unlock()
}

// Invalidate removes one key. Removing an absent key is a no-op.
func (r *Region[V]) Invalidate(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// InvalidateAll empties the region.
func (r *Region[V]) InvalidateAll() {
	r.mu.Lock()
	r.entries = make(map[string]entry[V])
	r.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (r *Region[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats returns the hit and miss counters.
func (r *Region[V]) Stats() (hits, misses uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hits, r.misses
}

// Sweep removes entries older than the TTL and returns how many were removed.
func (r *Region[V]) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, e := range r.entries {
		if now.Sub(e.insertedAt) > r.ttl {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Sweepable is the view of a region the sweeper needs.
type Sweepable interface {
	Name() string
	Sweep(now time.Time) int
}

// Sweeper periodically sweeps a set of regions.
type Sweeper struct {
	interval time.Duration
	regions  []Sweepable

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper over the given regions.
func NewSweeper(interval time.Duration, regions ...Sweepable) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		interval: interval,
		regions:  regions,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Close is called or the context ends.
func (s *Sweeper) Start(ctx context.Context) {
	s.started = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case now := <-ticker.C:
				for _, region := range s.regions {
					if removed := region.Sweep(now); removed > 0 {
						slog.Debug("cache sweep", "region", region.Name(), "removed", removed)
					}
				}
			}
		}
	}()
}

// Close stops the sweep loop. The in-flight sweep completes first.
func (s *Sweeper) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started {
		<-s.done
	}
}
