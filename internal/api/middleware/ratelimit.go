package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures rate limiting of bridge commands.
type RateLimitConfig struct {
	// Rate is the number of requests allowed per second per caller.
	Rate rate.Limit
	// Burst is the maximum burst size per caller.
	Burst int
	// CleanupInterval is how often idle callers are evicted.
	CleanupInterval time.Duration
	// MaxAge is how long an idle caller's limiter is kept.
	MaxAge time.Duration
}

// NewRateLimitConfig returns limits of perSecond requests per second per
// caller with a burst of twice that.
func NewRateLimitConfig(perSecond int) RateLimitConfig {
	perSecond = max(perSecond, 1)
	return RateLimitConfig{
		Rate:            rate.Limit(perSecond),
		Burst:           2 * perSecond,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// CallerRateLimiter keeps one token bucket per caller key. Authenticated
// requests are keyed by client name, anonymous ones by remote IP.
type CallerRateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	callers map[string]*callerLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCallerRateLimiter creates a limiter and starts evicting idle callers.
func NewCallerRateLimiter(cfg RateLimitConfig) *CallerRateLimiter {
	rl := &CallerRateLimiter{
		cfg:     cfg,
		callers: make(map[string]*callerLimiter),
		stopCh:  make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether key may make a request now.
func (rl *CallerRateLimiter) Allow(key string) bool {
	ok, _ := rl.reserve(key)
	return ok
}

// reserve takes a token for key. When none is available it returns false
// and how long until one would be.
func (rl *CallerRateLimiter) reserve(key string) (bool, time.Duration) {
	now := time.Now()
	rl.mu.Lock()
	c, ok := rl.callers[key]
	if !ok {
		c = &callerLimiter{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.callers[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Stop ends idle eviction. It is safe to call more than once.
func (rl *CallerRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *CallerRateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *CallerRateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	evicted := 0
	for key, c := range rl.callers {
		if c.lastSeen.Before(cutoff) {
			delete(rl.callers, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("command rate limiter evicted idle callers", "evicted", evicted, "remaining", len(rl.callers))
	}
}

// RateLimit returns middleware that limits requests per caller. Rejected
// requests get 429 with a Retry-After of at least one second.
func RateLimit(limiter *CallerRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)
			ok, wait := limiter.reserve(key)
			if !ok {
				slog.Warn("rate limit exceeded", "caller", key, "method", r.Method, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// callerKey identifies the caller: the authenticated client when
// RequireClientAuth ran first, otherwise the remote IP.
func callerKey(r *http.Request) string {
	if client := ClientFromContext(r.Context()); client != "" {
		return "client:" + client
	}
	return "ip:" + extractIP(r)
}

// extractIP strips the port from RemoteAddr. chi's RealIP middleware must
// run earlier when the bridge sits behind a proxy.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
