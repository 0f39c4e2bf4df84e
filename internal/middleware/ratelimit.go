package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/boffins/usermgmt/internal/database"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
	"github.com/boffins/usermgmt/internal/pkg/response"
)

// RateLimitConfig defines rate limiting parameters for a fixed window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultRateLimitConfig returns the limit applied to credential endpoints.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 5,
		Window:   60 * time.Second,
	}
}

// RateLimit returns a per-client, per-path rate limiting middleware backed by
// Redis. Redis failures let the request through so an outage of the limiter
// never blocks logins.
func RateLimit(redis *database.Redis, cfg RateLimitConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s", r.URL.Path, getClientID(r))

			count, err := redis.IncrWithExpire(r.Context(), key, cfg.Window)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			remaining := cfg.Requests - int(count)
			if remaining < 0 {
				remaining = 0
			}
			resetTime := time.Now().Add(cfg.Window).Unix()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

			if int(count) > cfg.Requests {
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				response.Error(w, apierrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID extracts a unique identifier for the client.
func getClientID(r *http.Request) string {
	return "ip:" + getRealIP(r)
}

// getRealIP extracts the real client IP, considering proxies.
func getRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	return r.RemoteAddr
}
