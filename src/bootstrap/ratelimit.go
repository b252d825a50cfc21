package bootstrap

import (
	"sync"
	"time"
)

// rateLimiter is a per-key sliding-window counter kept in process memory.
// Only successful tenant creations are recorded, so failed probes do not
// consume the caller's budget.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// allow reports whether key has budget left at instant now, pruning expired
// entries as a side effect.
func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	recent := l.prune(key, now)
	return len(recent) < l.limit
}

// record registers a successful creation for key.
func (l *rateLimiter) record(key string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits[key] = append(l.prune(key, now), now)
}

func (l *rateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	old := l.hits[key]
	recent := old[:0]
	for _, t := range old {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = recent
	return recent
}
