package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// clientRateLimiter hands every client IP its own token bucket. Activation
// and check are the endpoints where guessing codes or MACs is cheap.
type clientRateLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientRateLimiter(rps float64, burst int) *clientRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientRateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		clients:   map[string]*clientLimiter{},
		lastSweep: time.Now(),
	}
}

func (l *clientRateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (l *clientRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := readIP(r)
		if !l.allow(ip) {
			httpLogger().WarnContext(r.Context(), "rate limit exceeded",
				"operation", "rate_limit",
				"outcome", "failure",
				"request_id", requestIDFromContext(r.Context()),
				"client_ip", ip,
				"path", r.URL.Path,
			)
			w.Header().Set("Retry-After", "1")
			writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
