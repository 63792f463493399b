// Package middleware provides HTTP middleware for the formrelay front end
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/formrelay/internal/metrics"
	"github.com/R3E-Network/formrelay/pkg/logger"
)

// maxLimiters caps the per-client map before Cleanup resets it.
const maxLimiters = 10000

// RateLimiter limits submissions per client IP. Only POST requests count;
// page and static reads are never limited.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	logger   *logger.Logger
	metrics  *metrics.Collector
}

// NewRateLimiter creates a new rate limiter. A non-positive rate disables it.
func NewRateLimiter(perSecond float64, burst int, log *logger.Logger, m *metrics.Collector) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		logger:   log,
		metrics:  m,
	}
}

// Enabled reports whether requests are limited at all.
func (rl *RateLimiter) Enabled() bool {
	return rl.rate > 0
}

// getLimiter returns a rate limiter for the given client key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Enabled() || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		key := clientIP(r)
		if !rl.getLimiter(key).Allow() {
			rl.logger.WithField("client", key).
				WithField("path", r.URL.Path).
				WithField("trace_id", TraceID(r.Context())).
				Warn("rate limit exceeded")
			if rl.metrics != nil {
				rl.metrics.RecordRateLimited()
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops all limiters once the map grows past maxLimiters
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) > maxLimiters {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup runs Cleanup every interval until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
