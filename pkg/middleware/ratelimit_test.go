package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRateLimiter(t *testing.T, cfg RateLimitConfig) (*RateLimiter, *fakeClock) {
	t.Helper()
	rl := NewRateLimiter(cfg, discardLogger())
	t.Cleanup(rl.Close)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl.store.nowFunc = clock.Now
	return rl, clock
}

func limitedRequest(h http.Handler, remoteAddr, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = remoteAddr
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func statusHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestRateLimiter_AllowsUpToLimitThenRejects(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{
		Name:    "login",
		Limit:   5,
		Window:  10 * time.Minute,
		Message: "Too many login attempts. Please try again later.",
	})
	h := rl.Middleware(statusHandler(http.StatusUnauthorized))

	for i := 0; i < 5; i++ {
		rec := limitedRequest(h, "10.0.0.1:1234", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := limitedRequest(h, "10.0.0.1:1234", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"message":"Too many login attempts. Please try again later."}`, rec.Body.String())
	assert.Equal(t, "120", rec.Header().Get("Retry-After"))
	assert.Equal(t, "5;w=600", rec.Header().Get("RateLimit-Policy"))
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl, clock := newTestRateLimiter(t, RateLimitConfig{Limit: 2, Window: time.Minute})
	h := rl.Middleware(statusHandler(http.StatusOK))

	assert.Equal(t, http.StatusOK, limitedRequest(h, "10.0.0.1:1", "").Code)
	assert.Equal(t, http.StatusOK, limitedRequest(h, "10.0.0.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, limitedRequest(h, "10.0.0.1:1", "").Code)

	clock.Advance(30 * time.Second)
	assert.Equal(t, http.StatusOK, limitedRequest(h, "10.0.0.1:1", "").Code)
}

func TestRateLimiter_DefaultMessage(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{Limit: 1, Window: time.Minute})
	h := rl.Middleware(statusHandler(http.StatusOK))

	limitedRequest(h, "10.0.0.1:1", "")
	rec := limitedRequest(h, "10.0.0.1:1", "")
	assert.JSONEq(t, `{"message":"Too many requests. Please try again later."}`, rec.Body.String())
}

func TestRateLimiter_DifferentIPs_IndependentLimits(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{Limit: 1, Window: time.Minute})
	h := rl.Middleware(statusHandler(http.StatusOK))

	assert.Equal(t, http.StatusOK, limitedRequest(h, "10.0.0.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, limitedRequest(h, "10.0.0.1:2", "").Code)
	assert.Equal(t, http.StatusOK, limitedRequest(h, "10.0.0.2:1", "").Code)
}

func TestRateLimiter_SkipFailedRequests(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{
		Name:               "register",
		Limit:              1,
		Window:             time.Hour,
		Message:            "Only one registration per hour is allowed from this device.",
		KeyFunc:            ClientIPAndUserAgentKey,
		SkipFailedRequests: true,
	})

	status := http.StatusConflict
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusConflict, limitedRequest(h, "10.0.0.1:1", "browser-a").Code)
	}

	status = http.StatusCreated
	assert.Equal(t, http.StatusCreated, limitedRequest(h, "10.0.0.1:1", "browser-a").Code)

	rec := limitedRequest(h, "10.0.0.1:1", "browser-a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Only one registration per hour")

	assert.Equal(t, http.StatusCreated, limitedRequest(h, "10.0.0.1:1", "browser-b").Code)
}

func TestRateLimiter_SkipFailedRequests_InFlightHoldsToken(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{
		Name:               "register",
		Limit:              1,
		Window:             time.Hour,
		KeyFunc:            ClientIPAndUserAgentKey,
		SkipFailedRequests: true,
	})

	entered := make(chan struct{})
	release := make(chan int)
	var calls atomic.Int32
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(entered)
			w.WriteHeader(<-release)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := make(chan int, 1)
	go func() { first <- limitedRequest(h, "10.0.0.1:1", "browser-a").Code }()
	<-entered

	assert.Equal(t, http.StatusTooManyRequests, limitedRequest(h, "10.0.0.1:1", "browser-a").Code)

	release <- http.StatusConflict
	assert.Equal(t, http.StatusConflict, <-first)

	assert.Equal(t, http.StatusCreated, limitedRequest(h, "10.0.0.1:1", "browser-a").Code, "failed request returned its token")
	assert.Equal(t, http.StatusTooManyRequests, limitedRequest(h, "10.0.0.1:1", "browser-a").Code)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRateLimiter_SkipFailedRequests_ConcurrentBurst(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{
		Limit:              1,
		Window:             time.Hour,
		SkipFailedRequests: true,
	})

	gate := make(chan struct{})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-gate
		w.WriteHeader(http.StatusCreated)
	}))

	const n = 10
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- limitedRequest(h, "10.0.0.1:1", "").Code
		}()
	}
	require.Eventually(t, func() bool { return len(codes) == n-1 }, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()
	close(codes)

	created := 0
	for c := range codes {
		if c == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestRateLimiter_Cleanup_EvictsIdleVisitors(t *testing.T) {
	rl, clock := newTestRateLimiter(t, RateLimitConfig{Limit: 1, Window: time.Minute})
	h := rl.Middleware(statusHandler(http.StatusOK))

	limitedRequest(h, "10.0.0.1:1", "")
	limitedRequest(h, "10.0.0.2:1", "")
	require.Equal(t, 2, rl.store.len())

	clock.Advance(30 * time.Second)
	limitedRequest(h, "10.0.0.2:1", "")
	clock.Advance(45 * time.Second)
	rl.store.cleanup()

	assert.Equal(t, 1, rl.store.len())
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Limit: 1, Window: time.Minute}, discardLogger())
	rl.Close()
	assert.NotPanics(t, rl.Close)
}

func TestClientIPAndUserAgentKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.168.1.10:5555"
	req.Header.Del("User-Agent")
	assert.Equal(t, "192.168.1.10:unknown", ClientIPAndUserAgentKey(req))

	req.Header.Set("User-Agent", "curl/8")
	assert.Equal(t, "192.168.1.10:curl/8", ClientIPAndUserAgentKey(req))
}

func TestClientIPKey_WithoutPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.168.1.10"
	assert.Equal(t, "192.168.1.10", ClientIPKey(req))
}
