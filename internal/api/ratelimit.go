// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter is a token bucket per client IP with fixed capacity
// and refill rate, used on the register and login endpoints. The
// general API limit is handled separately by httprate in the router.
type ipRateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucketEntry
	limit    rate.Limit
	burst    int
	lastSeen time.Duration
}

type bucketEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// newIPRateLimiter creates a limiter refilling refillPerMin tokens per
// minute with the given burst capacity.
func newIPRateLimiter(refillPerMin float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		buckets:  make(map[string]*bucketEntry),
		limit:    rate.Limit(refillPerMin / 60.0),
		burst:    burst,
		lastSeen: 10 * time.Minute,
	}
}

// Allow consumes one token for the given key, creating the bucket on
// first sight. Stale buckets are evicted opportunistically so the map
// stays bounded at household scale.
func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = entry
	}
	entry.seen = now

	if len(l.buckets) > 1024 {
		for k, e := range l.buckets {
			if now.Sub(e.seen) > l.lastSeen {
				delete(l.buckets, k)
			}
		}
	}

	return entry.limiter.Allow()
}

// Limit wraps a handler with the per-IP token bucket, answering 429
// when the bucket is empty.
func (l *ipRateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			respondError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
			return
		}
		next(w, r)
	}
}
