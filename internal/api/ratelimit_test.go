package api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(perMinute, burst int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: perMinute, BurstSize: burst})
	rl.now = clock.now
	return rl, clock
}

func TestTokenBucketTake(t *testing.T) {
	start := time.Unix(0, 0)
	bucket := newTokenBucket(5, 1, start)

	for i := 0; i < 5; i++ {
		if ok, _, _ := bucket.take(start); !ok {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	ok, remaining, full := bucket.take(start)
	if ok || remaining != 0 {
		t.Errorf("6th request: ok=%v remaining=%d", ok, remaining)
	}
	if want := start.Add(5 * time.Second); !full.Equal(want) {
		t.Errorf("full at %v, want %v", full, want)
	}

	if ok, _, _ := bucket.take(start.Add(1100 * time.Millisecond)); !ok {
		t.Error("request after refill denied")
	}
	if ok, _, _ := bucket.take(start.Add(1200 * time.Millisecond)); ok {
		t.Error("second request after one refill allowed")
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl, clock := newTestLimiter(60, 2)

	for _, ip := range []string{"192.0.2.1", "192.0.2.2"} {
		for i := 0; i < 2; i++ {
			if !rl.Allow(ip) {
				t.Errorf("%s request %d denied", ip, i+1)
			}
		}
		if rl.Allow(ip) {
			t.Errorf("%s third request allowed", ip)
		}
	}
	clock.advance(time.Second)
	if !rl.Allow("192.0.2.1") {
		t.Error("request after one second denied")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(60, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var codes []int
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.RemoteAddr = "192.0.2.1:4000"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if last.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("X-RateLimit-Limit = %q", last.Header().Get("X-RateLimit-Limit"))
	}
	if last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", last.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:1234", "2001:db8::1"},
		{"192.0.2.7", "192.0.2.7"},
		{"not-an-ip", "unknown"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		req.Header.Set("X-Forwarded-For", "203.0.113.5")
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl, clock := newTestLimiter(60, 5)
	rl.Allow("192.0.2.1")
	clock.advance(4 * time.Minute)
	rl.Allow("192.0.2.2")
	clock.advance(2 * time.Minute)
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["192.0.2.1"]; ok {
		t.Error("idle bucket kept")
	}
	if _, ok := rl.buckets["192.0.2.2"]; !ok {
		t.Error("recent bucket dropped")
	}
}

func TestRateLimiterConcurrent(t *testing.T) {
	rl, _ := newTestLimiter(60, 50)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("192.0.2.1") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}
