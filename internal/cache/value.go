// Package cache holds per-process accelerators. Nothing here is authoritative;
// a miss always falls back to the durable store.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the authoritative value.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Value caches a single value for ttl. Concurrent misses share one fetch.
type Value[T any] struct {
	fetch FetchFunc[T]
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	value     T
	fetchedAt time.Time
	valid     bool
	// gen advances on every Set and Invalidate; a fetch started under an
	// older generation does not overwrite the newer state.
	gen uint64

	group singleflight.Group
}

func NewValue[T any](ttl time.Duration, now func() time.Time, fetch FetchFunc[T]) *Value[T] {
	if now == nil {
		now = time.Now
	}
	return &Value[T]{fetch: fetch, ttl: ttl, now: now}
}

// Get returns the cached value while it is younger than ttl, otherwise fetches.
// The bool reports whether the value came from the cache.
func (v *Value[T]) Get(ctx context.Context) (T, bool, error) {
	if val, ok := v.peek(); ok {
		return val, true, nil
	}

	res, err, _ := v.group.Do("fetch", func() (interface{}, error) {
		gen := v.generation()
		val, err := v.fetch(ctx)
		if err != nil {
			return val, err
		}
		if current, ok := v.store(val, gen); !ok {
			return current, nil
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

func (v *Value[T]) generation() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gen
}

// store keeps val if nothing changed the cache since gen was read. Otherwise
// it returns the newer cached value, if there is one, and false.
func (v *Value[T]) store(val T, gen uint64) (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen {
		if v.valid {
			return v.value, false
		}
		return val, false
	}
	v.value = val
	v.fetchedAt = v.now()
	v.valid = true
	return val, true
}

// Set stores val as freshly fetched.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = val
	v.fetchedAt = v.now()
	v.valid = true
	v.gen++
}

// Invalidate forces the next Get to fetch.
func (v *Value[T]) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.valid = false
	v.gen++
}

func (v *Value[T]) peek() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.valid || v.now().Sub(v.fetchedAt) >= v.ttl {
		var zero T
		return zero, false
	}
	return v.value, true
}
