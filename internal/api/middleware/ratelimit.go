package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-caller rate limiting for API endpoints.
type RateLimitConfig struct {
	// Rate is the number of requests allowed per second per caller.
	Rate rate.Limit
	// Burst is the maximum burst size per caller.
	Burst int
	// CleanupInterval is how often stale entries are removed.
	CleanupInterval time.Duration
	// MaxAge is how long an idle limiter is kept before eviction.
	MaxAge time.Duration
}

// DefaultRateLimitConfig returns defaults for general API rate limiting:
// 20 requests/second with burst of 40.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(20),
		Burst:           40,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// CallRateLimitConfig returns stricter limits for call initiation: 2
// requests/second with burst of 5. Nobody dials faster than that; anything
// above it is a stuck client or abuse.
func CallRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(2),
		Burst:           5,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// limitEntry tracks a per-caller rate limiter and when it was last used.
type limitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// CallerRateLimiter provides per-caller rate limiting for HTTP endpoints.
// The caller key is the authenticated user ID when present, the client IP
// otherwise.
type CallerRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limitEntry
	cfg     RateLimitConfig
	stopCh  chan struct{}
}

// NewCallerRateLimiter creates a per-caller rate limiter and starts
// background cleanup.
func NewCallerRateLimiter(cfg RateLimitConfig) *CallerRateLimiter {
	rl := &CallerRateLimiter{
		entries: make(map[string]*limitEntry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow checks whether a request from the given caller key is allowed.
func (rl *CallerRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[key]
	if !ok {
		entry = &limitEntry{
			limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst),
		}
		rl.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop terminates the background cleanup goroutine.
func (rl *CallerRateLimiter) Stop() {
	close(rl.stopCh)
}

// cleanupLoop periodically removes stale rate limiter entries.
func (rl *CallerRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup removes entries that haven't been seen within MaxAge.
func (rl *CallerRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	removed := 0
	for key, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("api rate limiter cleanup", "removed", removed, "remaining", len(rl.entries))
	}
}

// RateLimit returns HTTP middleware that rate limits requests per caller.
// When the limit is exceeded, it returns 429 Too Many Requests with a
// Retry-After header. Mount it after RequireAuth so the user ID is
// available as the caller key.
func RateLimit(limiter *CallerRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)

			if !limiter.Allow(key) {
				slog.Warn("rate limit exceeded",
					"caller", key,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(authEnvelope{Error: "rate limit exceeded"}) //nolint:errcheck
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerKey returns the authenticated user ID, or the client IP for
// unauthenticated requests. The chi RealIP middleware should run before
// this to set RemoteAddr from X-Forwarded-For / X-Real-IP when behind a
// reverse proxy.
func callerKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
