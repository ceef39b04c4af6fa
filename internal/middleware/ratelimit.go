package middleware

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/darkden-lab/postfeed/internal/httputil"
)

const (
	limiterIdleTTL     = 3 * time.Minute
	limiterSweepPeriod  = time.Minute
)

// ipLimiter holds a rate limiter and the last time it was used, in unix nanos.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// rateLimiterStore manages per-IP rate limiters with automatic cleanup.
type rateLimiterStore struct {
	limiters sync.Map
	rps      float64
	burst    int
}

// newRateLimiterStore creates a store that periodically evicts stale entries.
func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	s := &rateLimiterStore{rps: rps, burst: burst}
	go s.cleanup(limiterSweepPeriod, limiterIdleTTL)
	return s
}

// getLimiter returns the rate limiter for the given IP, creating one if needed.
func (s *rateLimiterStore) getLimiter(ip string) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := s.limiters.Load(ip); ok {
		entry := v.(*ipLimiter)
		entry.lastSeen.Store(now)
		return entry.limiter
	}

	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
	entry.lastSeen.Store(now)
	actual, _ := s.limiters.LoadOrStore(ip, entry)
	existing := actual.(*ipLimiter)
	existing.lastSeen.Store(now)
	return existing.limiter
}

func (s *rateLimiterStore) cleanup(every, ttl time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for range ticker.C {
		s.evictIdle(time.Now(), ttl)
	}
}

// evictIdle drops limiters not used within ttl of now.
func (s *rateLimiterStore) evictIdle(now time.Time, ttl time.Duration) int {
	evicted := 0
	cutoff := now.Add(-ttl).UnixNano()
	s.limiters.Range(func(key, value any) bool {
		if value.(*ipLimiter).lastSeen.Load() < cutoff {
			s.limiters.Delete(key)
			evicted++
		}
		return true
	})
	return evicted
}

// clientIP returns the peer address of the request. X-Forwarded-For is
// client-controlled and not consulted.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port.
		return r.RemoteAddr
	}
	return ip
}

// RateLimitMiddleware returns a gorilla/mux middleware that enforces per-IP
// rate limiting on the GraphQL HTTP surface. rps is the sustained
// requests-per-second rate and burst is the maximum burst size. A websocket
// upgrade counts as a single request.
func RateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	store := newRateLimiterStore(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.getLimiter(clientIP(r)).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
