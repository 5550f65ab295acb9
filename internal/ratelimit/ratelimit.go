// Package ratelimit implements per-identity token bucket rate limiting.
package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fruitsalade/filebrowser/internal/metrics"
	"github.com/fruitsalade/filebrowser/pkg/protocol"
)

// Limiter hands out one token bucket per key. A bucket holds rpm tokens and
// refills at rpm per minute. rpm=0 means unlimited.
type Limiter struct {
	rpm int

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing rpm requests per minute per key.
func New(rpm int) *Limiter {
	return &Limiter{
		rpm:     rpm,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Enabled reports whether any limit is enforced.
func (l *Limiter) Enabled() bool {
	return l.rpm > 0
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.rpm)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Allow reports whether a request for key may proceed, consuming a token.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

// RetryAfter returns the whole seconds until key's next token is available.
func (l *Limiter) RetryAfter(key string) int {
	if !l.Enabled() {
		return 0
	}
	now := l.now()
	lim := l.get(key, now)
	tokens := lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	seconds := (1 - tokens) / float64(lim.Limit())
	return int(math.Ceil(seconds))
}

// Cleanup removes buckets for keys that haven't been seen recently.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup(maxAge)
		}
	}
}

// KeyFunc extracts the limiting key from a request. ok=false skips limiting.
type KeyFunc func(r *http.Request) (key string, ok bool)

// ClientIP keys requests by remote address, for unauthenticated endpoints.
func ClientIP(r *http.Request) (string, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, r.RemoteAddr != ""
	}
	return host, true
}

// Middleware returns middleware that enforces the limit per key.
func Middleware(l *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !l.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFn(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !l.Allow(key) {
				metrics.RecordRateLimitHit()
				w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfter(key)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(protocol.ErrorResponse{
					Error: "rate limit exceeded",
					Code:  http.StatusTooManyRequests,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
