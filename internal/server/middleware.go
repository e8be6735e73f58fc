package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reqboard/internal/obs"
)

// requestLogger writes one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &obs.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			level := slog.LevelInfo
			if sw.Code >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Code,
				"duration", time.Since(start),
				"remote", clientIP(r),
			)
		})
	}
}

// maxBodyBytes limits request body size.
func maxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit configures the per client token bucket.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

type limiter struct {
	cfg     RateLimit
	ttl     time.Duration
	mu      sync.Mutex
	buckets map[string]*bucket
}

func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, k)
		}
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// rateLimit applies a token bucket per client IP. A zero rate disables it.
func rateLimit(cfg RateLimit) func(http.Handler) http.Handler {
	l := &limiter{cfg: cfg, ttl: 5 * time.Minute, buckets: map[string]*bucket{}}
	return func(next http.Handler) http.Handler {
		if cfg.PerSecond <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if ip == "" {
				ip = "unknown"
			}
			if !l.allow(ip, time.Now()) {
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many requests; slow down", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
