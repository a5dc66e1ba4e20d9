package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/netresearch/timetracker-sub002/internal/errors"
)

const (
	defaultRate  = 10.0
	defaultBurst = 20

	// limiters idle for longer than this are dropped on the next sweep
	limiterIdleTTL = 10 * time.Minute
)

// BlockRecorder counts rejected requests
type BlockRecorder interface {
	RecordRateLimitBlock(endpoint string)
}

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	Rate  float64 // requests per second per client
	Burst int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// HTTPRateLimiter keeps one token bucket per client IP
type HTTPRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	config    RateLimiterConfig
	lastSweep time.Time
	now       func() time.Time
}

// NewHTTPRateLimiter creates a new HTTP rate limiter. A nil config uses the
// defaults.
func NewHTTPRateLimiter(config *RateLimiterConfig) *HTTPRateLimiter {
	cfg := RateLimiterConfig{Rate: defaultRate, Burst: defaultBurst}
	if config != nil {
		cfg = *config
	}
	return &HTTPRateLimiter{
		limiters: make(map[string]*clientLimiter),
		config:   cfg,
		now:      time.Now,
	}
}

// getClientIP extracts the client IP address from the request. Only the
// first X-Forwarded-For hop is used.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Allow reports whether the client of r may proceed
func (rl *HTTPRateLimiter) Allow(r *http.Request) bool {
	key := getClientIP(r)
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > limiterIdleTTL {
		for k, cl := range rl.limiters {
			if now.Sub(cl.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

func (rl *HTTPRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// RateLimitMiddleware rejects requests over the limit with 429
func RateLimitMiddleware(limiter *HTTPRateLimiter, recorder BlockRecorder, handler *errors.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r) {
				if recorder != nil {
					recorder.RecordRateLimitBlock(endpointLabel(r))
				}
				handler.HandleError(w, r, errors.NewError(errors.ErrCodeRateLimited).
					WithMessage("Rate limit exceeded").
					WithContext("client_ip", getClientIP(r)).
					Build())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
