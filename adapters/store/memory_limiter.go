package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/warden/ports"
)

type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int64
}

// MemoryCounter is a fixed window counter with one lock per bucket.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

var _ ports.RateLimitCounter = (*MemoryCounter)(nil)

// NewMemoryCounter creates an empty counter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*bucket)}
}

// Hit counts one request against key
func (c *MemoryCounter) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	c.mu.Lock()
	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{}
		c.buckets[key] = b
	}
	// Lock the bucket before Prune can see it, so a hit never lands in a
	// bucket that was already dropped from the map.
	b.mu.Lock()
	c.mu.Unlock()
	defer b.mu.Unlock()

	if b.count == 0 || now.Sub(b.windowStart) >= window {
		b.windowStart = now
		b.count = 0
	}
	b.count++

	return b.count, b.windowStart.Add(window), nil
}

// Prune drops buckets whose window ended before now
func (c *MemoryCounter) Prune(now time.Time, window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for key, b := range c.buckets {
		b.mu.Lock()
		stale := now.Sub(b.windowStart) >= window
		b.mu.Unlock()
		if stale {
			delete(c.buckets, key)
			pruned++
		}
	}
	return pruned
}
