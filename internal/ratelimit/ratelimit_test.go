package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stashkeep/stashkeep/internal/cache"
	"github.com/stashkeep/stashkeep/internal/ratelimit"
)

func newLimiter(t *testing.T, perWindow int64) *ratelimit.Limiter {
	t.Helper()
	c := cache.New(time.Minute, 0)
	t.Cleanup(func() { c.Close() })
	return ratelimit.New(c, &ratelimit.Config{
		RequestsPerWindow: perWindow,
		Window:            time.Minute,
		KeyPrefix:         "test:",
	})
}

func TestAllowWithinWindow(t *testing.T) {
	limiter := newLimiter(t, 5)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		res, err := limiter.Allow(ctx, "client1")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !res.Allowed {
			t.Errorf("event %d should be allowed", i)
		}
		if res.Count != i {
			t.Errorf("event %d: Count = %d", i, res.Count)
		}
		if want := 5 - i; res.Remaining != want {
			t.Errorf("event %d: Remaining = %d, want %d", i, res.Remaining, want)
		}
	}

	res, err := limiter.Allow(ctx, "client1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Error("sixth event should be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	limiter := newLimiter(t, 1)
	ctx := context.Background()

	if res, _ := limiter.Allow(ctx, "a"); !res.Allowed {
		t.Error("first event for a should be allowed")
	}
	if res, _ := limiter.Allow(ctx, "a"); res.Allowed {
		t.Error("second event for a should be denied")
	}
	if res, _ := limiter.Allow(ctx, "b"); !res.Allowed {
		t.Error("first event for b should be allowed")
	}
}

func TestReset(t *testing.T) {
	limiter := newLimiter(t, 1)
	ctx := context.Background()

	limiter.Allow(ctx, "a")
	if res, _ := limiter.Allow(ctx, "a"); res.Allowed {
		t.Fatal("should be limited before reset")
	}
	if err := limiter.Reset(ctx, "a"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if res, _ := limiter.Allow(ctx, "a"); !res.Allowed {
		t.Error("should be allowed after reset")
	}
}

func TestAllowUser(t *testing.T) {
	limiter := newLimiter(t, 1)
	ctx := context.Background()

	if res, _ := limiter.AllowUser(ctx, 42); !res.Allowed {
		t.Error("first event should be allowed")
	}
	if res, _ := limiter.AllowUser(ctx, 42); res.Allowed {
		t.Error("second event should be denied")
	}
	if res, _ := limiter.AllowUser(ctx, 43); !res.Allowed {
		t.Error("other user should be unaffected")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := newLimiter(t, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// Different client address gets its own window.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareForwardedFor(t *testing.T) {
	limiter := newLimiter(t, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 (keyed by first forwarded address)", rec.Code)
	}
}
