package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// MemoryStore keeps buckets in process. Buckets that have refilled
// completely are dropped on access, so idle keys do not accumulate.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]bucket
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]bucket)}
}

func (s *MemoryStore) Take(_ context.Context, key string, n int, cfg Config, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = bucket{tokens: cfg.Capacity, lastRefill: now}
	}
	b.tokens, b.lastRefill = refill(b.tokens, b.lastRefill, now, cfg)

	res := Result{Limit: cfg.Capacity}
	if b.tokens >= n {
		b.tokens -= n
		res.Allowed = true
	}
	res.Remaining = b.tokens
	res.ResetAt = b.lastRefill.Add(cfg.RefillInterval)

	s.buckets[key] = b
	s.sweep(now, cfg)
	return res, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// sweep drops buckets that would be full by now. Callers hold mu.
func (s *MemoryStore) sweep(now time.Time, cfg Config) {
	if len(s.buckets) < 1024 {
		return
	}
	for key, b := range s.buckets {
		if tokens, _ := refill(b.tokens, b.lastRefill, now, cfg); tokens >= cfg.Capacity {
			delete(s.buckets, key)
		}
	}
}
