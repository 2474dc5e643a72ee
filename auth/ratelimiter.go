package auth

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// --- Rate Limiter ---

// RateLimiter allows limit requests per client address in each window.
type RateLimiter struct {
	requests map[string]*window
	mutex    sync.Mutex
	limit    int
	period   time.Duration
	now      func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		requests: make(map[string]*window),
		limit:    limit,
		period:   period,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientAddress(r)) {
			RespondWithError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	now := rl.now()

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	// Expired windows are dropped lazily so the map does not grow without bound.
	for k, win := range rl.requests {
		if !now.Before(win.resetAt) {
			delete(rl.requests, k)
		}
	}

	win, exists := rl.requests[key]
	if !exists {
		rl.requests[key] = &window{count: 1, resetAt: now.Add(rl.period)}
		return true
	}
	if win.count >= rl.limit {
		return false
	}
	win.count++
	return true
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
