// Package ratelimit caps how often one client can hit the generation endpoints.
// It is abuse mitigation only: counter errors let the request through.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Counter records one hit for key and returns the number of hits in the
// current window, including this one.
type Counter interface {
	Hit(ctx context.Context, key string, now time.Time) (int, error)
}

// Pruner drops state that can no longer affect a decision.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) error
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows Limit hits per Window for each key.
type Limiter struct {
	Counter Counter
	Limit   int
	Window  time.Duration
	Log     *slog.Logger
	Now     func() time.Time
}

func New(c Counter, limit int, window time.Duration, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{Counter: c, Limit: limit, Window: window, Log: log, Now: time.Now}
}

func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	n, err := l.Counter.Hit(ctx, key, l.Now())
	if err != nil {
		l.Log.Warn("rate limit counter failed, allowing", "key", key, "err", err)
		return Decision{Allowed: true, Remaining: l.Limit}
	}
	if n > l.Limit {
		return Decision{Allowed: false, RetryAfter: l.Window}
	}
	return Decision{Allowed: true, Remaining: l.Limit - n}
}

// Middleware rejects over-quota clients with 429. Clients are keyed by the
// host part of RemoteAddr; chi's RealIP, when mounted, decides what that is.
func (l *Limiter) Middleware(onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(r.Context(), clientKey(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
				onLimit(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Memory is a process-local sliding window counter. Keys are held in a
// bounded LRU so a flood of distinct clients cannot grow it without limit.
type Memory struct {
	limit  int
	window time.Duration
	keys   *lru.Cache[string, *slidingWindow]
	mu     sync.Mutex
}

func NewMemory(limit int, window time.Duration, maxKeys int) (*Memory, error) {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	c, err := lru.New[string, *slidingWindow](maxKeys)
	if err != nil {
		return nil, err
	}
	return &Memory{limit: limit, window: window, keys: c}, nil
}

func (m *Memory) Hit(_ context.Context, key string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sw, ok := m.keys.Get(key)
	if !ok {
		sw = newSlidingWindow(m.limit)
		m.keys.Add(key, sw)
	}
	return sw.hit(now, m.window), nil
}

// Prune evicts keys whose windows are empty.
func (m *Memory) Prune(_ context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys.Keys() {
		if sw, ok := m.keys.Peek(k); ok {
			sw.cleanup(now, m.window)
			if sw.count == 0 {
				m.keys.Remove(k)
			}
		}
	}
	return nil
}

func (m *Memory) Len() int { return m.keys.Len() }

// slidingWindow is a circular buffer of accepted hit times, sized to the limit.
type slidingWindow struct {
	timestamps []time.Time
	head       int
	count      int
}

func newSlidingWindow(size int) *slidingWindow {
	if size < 1 {
		size = 1
	}
	return &slidingWindow{timestamps: make([]time.Time, size)}
}

// hit records now if there is room and returns the window count; a full
// window returns len+1 without recording.
func (sw *slidingWindow) hit(now time.Time, window time.Duration) int {
	sw.cleanup(now, window)
	size := len(sw.timestamps)
	if sw.count >= size {
		return size + 1
	}
	sw.timestamps[(sw.head+sw.count)%size] = now
	sw.count++
	return sw.count
}

func (sw *slidingWindow) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	size := len(sw.timestamps)
	for sw.count > 0 && !sw.timestamps[sw.head].After(cutoff) {
		sw.head = (sw.head + 1) % size
		sw.count--
	}
}
