// Package ratelimit throttles token verification per client.
package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"kaiden.app/licensing/internal/logger"
)

type RateLimit interface {
	Allow(key string) bool
}

type window struct {
	count int
	start time.Time
}

// FixedWindowLimiter admits at most maxRequests per key in each window.
type FixedWindowLimiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

func New(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return NewWithClock(maxRequests, interval, time.Now)
}

func NewWithClock(maxRequests int, interval time.Duration, now func() time.Time) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		window:      interval,
		now:         now,
		windows:     make(map[string]*window),
		lastSweep:   now(),
	}
}

func (rl *FixedWindowLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	w := rl.windows[key]
	if w == nil || now.Sub(w.start) > rl.window {
		if rl.maxRequests <= 0 {
			return false
		}
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++
	return true
}

// RetryAfter is the time left in the current window for key.
func (rl *FixedWindowLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.windows[key]
	if w == nil {
		return 0
	}
	left := rl.window - rl.now().Sub(w.start)
	if left < 0 {
		return 0
	}
	return left
}

// Len is the number of tracked keys.
func (rl *FixedWindowLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// sweep drops expired windows at most once per window length.
func (rl *FixedWindowLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) <= rl.window {
		return
	}
	for k, w := range rl.windows {
		if now.Sub(w.start) > rl.window {
			delete(rl.windows, k)
		}
	}
	rl.lastSweep = now
}

// ClientKey identifies a caller by remote IP, without the port.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429.
func Middleware(rl *FixedWindowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			if !rl.Allow(key) {
				logger.Warn("Rate limit exceeded", map[string]interface{}{
					"client": key,
					"path":   r.URL.Path,
				})
				retry := int(rl.RetryAfter(key).Seconds()) + 1
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "Too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
