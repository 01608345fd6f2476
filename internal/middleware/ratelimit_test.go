package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/craftmarket/backend/internal/auth"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, nil)
	h := rl.Handler(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: expected %d, got %d (all: %v)", i, want[i], codes[i], codes)
		}
	}
}

func TestRateLimiter_SeparateBucketsPerCaller(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, nil)
	h := rl.Handler(okHandler)

	send := func(remote string, user uuid.UUID) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if user != uuid.Nil {
			req = req.WithContext(WithIdentity(req.Context(), auth.Identity{UserID: user}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("10.0.0.1:1", uuid.Nil); code != http.StatusOK {
		t.Fatalf("first ip request: got %d", code)
	}
	if code := send("10.0.0.2:1", uuid.Nil); code != http.StatusOK {
		t.Errorf("other ip should have its own bucket, got %d", code)
	}
	// Same IP but authenticated: keyed by user, not address.
	if code := send("10.0.0.1:1", uuid.New()); code != http.StatusOK {
		t.Errorf("authenticated caller should have its own bucket, got %d", code)
	}
	if code := send("10.0.0.1:2", uuid.Nil); code != http.StatusTooManyRequests {
		t.Errorf("exhausted ip bucket should reject regardless of port, got %d", code)
	}
}

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("ip:a")
	now = now.Add(time.Minute)
	rl.getLimiter("ip:b")

	rl.Cleanup(30 * time.Second)

	if n := rl.size(); n != 1 {
		t.Fatalf("expected 1 limiter after cleanup, got %d", n)
	}
}
