package ratelimit

import (
	"context"
	"sync"
	"time"

	"quotewire/internal/application/port"
)

// MemoryLimiter enforces a true sliding window per caller key in process
// memory.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	history map[string][]time.Time

	now func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.history[key]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.history[key] = kept
		return false, nil
	}
	l.history[key] = append(kept, now)
	return true, nil
}

var _ port.RateLimiter = (*MemoryLimiter)(nil)
