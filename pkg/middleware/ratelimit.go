package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/utafrali/authsession/pkg/httputil"
)

// KeyFunc derives the rate limit bucket key for a request.
type KeyFunc func(r *http.Request) string

// RateLimitConfig describes one limiter: Limit requests per Window per key.
type RateLimitConfig struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
	KeyFunc KeyFunc

	// SkipFailedRequests leaves the bucket untouched when the handler answers
	// with a status >= 400. An admitted request holds its token until it
	// completes, so concurrent requests cannot share one token.
	SkipFailedRequests bool
}

// visitor tracks a rate limiter per key. pending counts admitted requests
// whose token is held until the handler's status is known.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time

	mu      sync.Mutex
	pending int
}

// hold admits a request when a token is free after accounting for requests
// still in flight.
func (v *visitor) hold(now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.limiter.TokensAt(now)-float64(v.pending) < 1 {
		return false
	}
	v.pending++
	return true
}

// settle releases a held token, consuming it when consume is set.
func (v *visitor) settle(now time.Time, consume bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending--
	if consume {
		v.limiter.AllowN(now, 1)
	}
}

func (v *visitor) busy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending > 0
}

// visitorStore manages per-key limiters and evicts idle ones.
type visitorStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	nowFunc  func() time.Time
}

func newVisitorStore(limit rate.Limit, burst int, ttl time.Duration) *visitorStore {
	return &visitorStore{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		ttl:      ttl,
		nowFunc:  time.Now,
	}
}

func (s *visitorStore) now() time.Time {
	return s.nowFunc()
}

func (s *visitorStore) getVisitor(key string) *visitor {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exists := s.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = s.now()
	return v
}

// cleanup evicts visitors idle for longer than ttl. A visitor idle for a
// whole window has a full bucket again, so eviction never loosens a limit.
func (s *visitorStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.ttl && !v.busy() {
			delete(s.visitors, key)
		}
	}
}

func (s *visitorStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// RateLimiter enforces a per-key token bucket sized Limit per Window.
type RateLimiter struct {
	cfg        RateLimitConfig
	store      *visitorStore
	logger     *slog.Logger
	policy     string
	retryAfter string
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter creates a limiter and starts its idle-visitor cleanup loop.
// Call Close to stop the loop.
func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIPKey
	}
	if cfg.Message == "" {
		cfg.Message = "Too many requests. Please try again later."
	}

	perToken := cfg.Window / time.Duration(cfg.Limit)
	rl := &RateLimiter{
		cfg:        cfg,
		store:      newVisitorStore(rate.Every(perToken), cfg.Limit, cfg.Window),
		logger:     logger,
		policy:     fmt.Sprintf("%d;w=%d", cfg.Limit, int(cfg.Window.Seconds())),
		retryAfter: strconv.Itoa(int(math.Ceil(perToken.Seconds()))),
		stop:       make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.store.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// Close stops the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware returns the limiter as chi-compatible middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.cfg.KeyFunc(r)
		v := rl.store.getVisitor(key)
		w.Header().Set("RateLimit-Policy", rl.policy)

		if !rl.cfg.SkipFailedRequests {
			if !v.limiter.AllowN(rl.store.now(), 1) {
				rl.reject(w, r, key)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !v.hold(rl.store.now()) {
			rl.reject(w, r, key)
			return
		}

		rw := newResponseWriter(w)
		succeeded := false
		defer func() { v.settle(rl.store.now(), succeeded) }()
		next.ServeHTTP(rw, r)
		succeeded = rw.statusCode < http.StatusBadRequest
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, key string) {
	rl.logger.WarnContext(r.Context(), "rate limit exceeded",
		slog.String("limiter", rl.cfg.Name),
		slog.String("key", key),
		slog.String("path", r.URL.Path),
	)
	w.Header().Set("Retry-After", rl.retryAfter)
	httputil.WriteMessage(w, http.StatusTooManyRequests, rl.cfg.Message)
}

// ClientIPKey buckets requests by client IP.
func ClientIPKey(r *http.Request) string {
	return clientIP(r)
}

// ClientIPAndUserAgentKey buckets requests by client IP and User-Agent, so
// separate devices behind one address get separate buckets.
func ClientIPAndUserAgentKey(r *http.Request) string {
	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	return clientIP(r) + ":" + ua
}

// clientIP returns the host part of RemoteAddr. Deployments behind a trusted
// proxy mount chi's RealIP first so RemoteAddr already holds the client.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
