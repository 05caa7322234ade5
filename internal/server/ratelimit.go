package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/persondata/internal/config"
)

// RateLimiter hands each client its own token bucket
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing RequestsPerMin per client with
// the configured burst.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a request from clientIP may proceed now.
func (r *RateLimiter) Allow(clientIP string) bool {
	r.mu.Lock()
	c, ok := r.clients[clientIP]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[clientIP] = c
	}
	c.lastSeen = time.Now()
	r.mu.Unlock()

	return c.limiter.Allow()
}

// RetryAfter estimates how long clientIP must wait for its next token.
func (r *RateLimiter) RetryAfter(clientIP string) time.Duration {
	r.mu.Lock()
	c, ok := r.clients[clientIP]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	res := c.limiter.Reserve()
	defer res.Cancel()
	return res.Delay()
}

// Cleanup drops clients not seen since the cutoff
func (r *RateLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for ip, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine removes idle clients every interval until stop is closed.
func (r *RateLimiter) StartCleanupRoutine(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Cleanup(time.Hour)
			case <-stop:
				return
			}
		}
	}()
}
