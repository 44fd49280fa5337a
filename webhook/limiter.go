package webhook

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sourceLimiter keeps one token bucket per delivery source address.
// Idle buckets are evicted so a churning source population does not
// grow the map without bound.
type sourceLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const bucketIdleEviction = 10 * time.Minute

func newSourceLimiter(rps float64, burst int) *sourceLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &sourceLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

func (s *sourceLimiter) allow(source string) bool {
	now := time.Now()

	s.mu.Lock()
	b, ok := s.buckets[source]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(s.rps, s.burst)}
		s.buckets[source] = b
	}
	b.lastSeen = now
	if len(s.buckets) > 1 {
		for key, old := range s.buckets {
			if now.Sub(old.lastSeen) > bucketIdleEviction {
				delete(s.buckets, key)
			}
		}
	}
	s.mu.Unlock()

	return b.lim.Allow()
}
