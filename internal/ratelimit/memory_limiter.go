package ratelimit

import (
	"context"
	"hash/maphash"
	"sort"
	"sync"
	"time"
)

const memoryShards = 16

// MemoryLimiter is an in-process sliding window limiter used when Redis is
// unavailable. Keys are spread over shards so busy bots do not contend on one lock.
type MemoryLimiter struct {
	seed   maphash.Seed
	shards [memoryShards]memoryShard
	now    func() time.Time
}

type memoryShard struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an in-memory limiter implementation.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{seed: maphash.MakeSeed(), now: time.Now}
	for i := range m.shards {
		m.shards[i].hits = make(map[string][]time.Time)
	}
	return m
}

// Check enforces a sliding-window limit for the provided key. A rejected
// request is not counted.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.now()
	shard := m.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	hits := dropBefore(shard.hits[key], now.Add(-window))
	allowed := len(hits) < limit
	if allowed {
		hits = append(hits, now)
	}
	shard.hits[key] = hits

	result := &Result{Allowed: allowed, Remaining: max(limit-len(hits), 0), ResetAt: now.Add(window)}
	if len(hits) > 0 {
		result.ResetAt = hits[0].Add(window)
	}
	return result, nil
}

// Cleanup removes keys whose newest request is older than maxAge and
// returns how many were removed.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := m.now().Add(-maxAge)

	removed := 0
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for key, hits := range shard.hits {
			if len(hits) == 0 || hits[len(hits)-1].Before(cutoff) {
				delete(shard.hits, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

func (m *MemoryLimiter) shard(key string) *memoryShard {
	return &m.shards[maphash.String(m.seed, key)%memoryShards]
}

// dropBefore removes timestamps older than start, reusing the backing array.
func dropBefore(hits []time.Time, start time.Time) []time.Time {
	i := sort.Search(len(hits), func(i int) bool { return !hits[i].Before(start) })
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
