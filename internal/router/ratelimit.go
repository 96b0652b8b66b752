package router

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/safeplay/safeplay-api/internal/httpx"
)

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time

	// proxyHeader names a header set by a trusted reverse proxy; empty keys on the peer address.
	proxyHeader string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per key with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return NewRateLimiterWithNow(perMinute, burst, time.Now)
}

func NewRateLimiterWithNow(perMinute, burst int, now func() time.Time) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     burst,
		idle:      10 * time.Minute,
		lastSweep: now(),
		now:       now,
	}
}

// TrustProxyHeader keys clients on the given header, e.g. X-Forwarded-For or
// X-Real-IP. Only enable it when the proxy overwrites or appends that header.
func (rl *RateLimiter) TrustProxyHeader(name string) *RateLimiter {
	rl.proxyHeader = http.CanonicalHeaderKey(strings.TrimSpace(name))
	return rl
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.idle {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.idle {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects clients over their budget with 429.
func RateLimitMiddleware(rl *RateLimiter, rs *httpx.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl != nil && !rl.Allow(rl.clientKey(r)) {
				w.Header().Set("Retry-After", "60")
				rs.JSON(w, http.StatusTooManyRequests, map[string]any{"error": "too many requests, try again later"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey uses the right-most address in the trusted header, which is the
// one the proxy itself observed.
func (rl *RateLimiter) clientKey(r *http.Request) string {
	if rl.proxyHeader != "" {
		parts := strings.Split(r.Header.Get(rl.proxyHeader), ",")
		for i := len(parts) - 1; i >= 0; i-- {
			if ip := net.ParseIP(strings.TrimSpace(parts[i])); ip != nil {
				return ip.String()
			}
		}
	}
	return clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
