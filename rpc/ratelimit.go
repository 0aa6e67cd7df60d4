package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 10 * time.Minute

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles JSON-RPC requests per client address.
type RateLimiter struct {
	perMinute float64
	burst     int

	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
}

func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perMinute: perMinute,
		burst:     burst,
		visitors:  make(map[string]*rateEntry),
		clockNow:  time.Now,
	}
}

// Allow reports whether the client identified by id may proceed.
func (r *RateLimiter) Allow(id string) bool {
	return r.obtainLimiter(id).Allow()
}

func (r *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	entry, ok := r.visitors[id]
	if ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Limit(r.perMinute/60.0), r.burst)
	r.visitors[id] = &rateEntry{limiter: limiter, lastSeen: now}
	if len(r.visitors) == 1 {
		go r.cleanupLoop()
	}
	return limiter
}

func (r *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(visitorTTL)
	defer ticker.Stop()
	for range ticker.C {
		r.mu.Lock()
		cutoff := r.clockNow().Add(-visitorTTL)
		for id, entry := range r.visitors {
			if entry.lastSeen.Before(cutoff) {
				delete(r.visitors, id)
			}
		}
		remaining := len(r.visitors)
		r.mu.Unlock()
		if remaining == 0 {
			return
		}
	}
}
