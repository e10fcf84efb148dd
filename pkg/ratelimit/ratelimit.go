package ratelimit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter backed by Redis, so the limit holds
// across server instances and entries expire instead of accumulating in a
// process-local map.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

func New(rdb *redis.Client, limit int64, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

// Allow increments the caller's counter and reports whether it is within the
// limit. Redis being down fails open: throttling is protective, not
// load-bearing for correctness.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	n, err := l.rdb.Incr(ctx, "ratelimit:"+key).Result()
	if err != nil {
		return true
	}
	if n == 1 {
		l.rdb.Expire(ctx, "ratelimit:"+key, l.window)
	}
	return n <= l.limit
}

// Middleware throttles by client address.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.Allow(r.Context(), host) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
