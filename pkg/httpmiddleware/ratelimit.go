package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max    int
	Window time.Duration
	// KeyFunc groups requests. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// window counts requests of one key in the current and previous fixed
// windows; the previous count is weighted by its overlap with the sliding
// window.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

type limiter struct {
	max     int
	size    time.Duration
	keyFunc func(*http.Request) string

	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:     cfg.Max,
		size:    cfg.Window,
		keyFunc: cfg.KeyFunc,
		windows: make(map[string]*window),
	}
	if l.keyFunc == nil {
		l.keyFunc = ClientIP
	}
	return l
}

// take consumes one request for key if the limit allows it.
func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[key]
	if !found {
		w = &window{start: now}
		l.windows[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= l.size {
		w.prev = w.curr
		if elapsed >= 2*l.size {
			w.prev = 0
		}
		w.curr = 0
		w.start = now.Truncate(l.size)
	}

	overlap := math.Max(0, 1-now.Sub(w.start).Seconds()/l.size.Seconds())
	used := w.prev*overlap + w.curr
	reset = w.start.Add(l.size)
	if used >= float64(l.max) {
		return 0, reset, false
	}
	w.curr++
	return max(0, int(float64(l.max)-used-1)), reset, true
}

// evict drops keys idle for two full windows.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.windows, key)
		}
	}
}

func (l *limiter) runEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * l.size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, reset, ok := l.take(l.keyFunc(r), time.Now())

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			retry := max(0, time.Until(reset))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces a per-key sliding window limit, answering 429 once it
// is exceeded. Stale keys are never evicted; servers should use
// RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit with a background goroutine evicting
// idle keys until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.runEviction(ctx)
	return l.middleware
}

// ClientIP keys requests by the first X-Forwarded-For hop, X-Real-IP, or
// the remote address, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
