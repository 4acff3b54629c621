package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default question budget per client
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = 60 * time.Second
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client id. A full bucket holds limit
// tokens and refills at limit per window.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*clientBucket
	now     func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive values fall back to the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Allow consumes one token for clientID
func (r *RateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket, ok := r.buckets[clientID]
	if !ok {
		bucket = &clientBucket{
			limiter: rate.NewLimiter(rate.Every(r.window/time.Duration(r.limit)), r.limit),
		}
		r.buckets[clientID] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// Prune forgets clients idle for longer than one window; their buckets
// would be full again anyway.
func (r *RateLimiter) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	pruned := 0
	for id, bucket := range r.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.buckets, id)
			pruned++
		}
	}
	return pruned
}

// Tracked returns the number of clients with a bucket
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
