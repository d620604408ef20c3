// Package ratelimit provides fixed-window rate limiting over the cache
// counters. The bot uses it to shed inbound floods per user; the ops API
// mounts it as HTTP middleware.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Counter is the storage the limiter needs, satisfied by *cache.Cache.
type Counter interface {
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	GetCount(ctx context.Context, key string) (int64, error)
	ResetCount(ctx context.Context, key string) error
}

// Config defines the fixed window.
type Config struct {
	// RequestsPerWindow is the maximum events allowed per window.
	RequestsPerWindow int64

	// Window is the counting window.
	Window time.Duration

	// KeyPrefix is prepended to all limiter keys, so several limiters
	// can share one cache.
	KeyPrefix string
}

// DefaultConfig allows 100 events per minute.
func DefaultConfig() *Config {
	return &Config{
		RequestsPerWindow: 100,
		Window:            time.Minute,
		KeyPrefix:         "ratelimit:",
	}
}

// Limiter counts events per key in fixed windows.
type Limiter struct {
	counter Counter
	config  *Config
}

// New creates a limiter. A nil cfg uses DefaultConfig.
func New(c Counter, cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Limiter{counter: c, config: cfg}
}

// Result is one limit decision.
type Result struct {
	Allowed   bool
	Count     int64 // events seen in this window, including this one
	Remaining int64
	ResetAt   time.Time
}

// Allow records one event for key and reports whether it fits the window.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	count, err := l.counter.Increment(ctx, l.config.KeyPrefix+key, 1, l.config.Window)
	if err != nil {
		return nil, err
	}
	remaining := l.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   count <= l.config.RequestsPerWindow,
		Count:     count,
		Remaining: remaining,
		ResetAt:   time.Now().Add(l.config.Window),
	}, nil
}

// AllowUser is Allow keyed by a numeric user id.
func (l *Limiter) AllowUser(ctx context.Context, userID int64) (*Result, error) {
	return l.Allow(ctx, strconv.FormatInt(userID, 10))
}

// Reset clears the window for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.counter.ResetCount(ctx, l.config.KeyPrefix+key)
}

// keyFromRequest prefers X-Forwarded-For, falling back to RemoteAddr
// with the port stripped.
func keyFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

// Middleware applies the limiter per client address. Limiter errors fail
// open.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := l.Allow(r.Context(), keyFromRequest(r))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(l.config.RequestsPerWindow, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(result.ResetAt).Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
