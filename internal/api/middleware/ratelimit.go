package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare-labs/callbridge/internal/metrics"
	"github.com/telecare-labs/callbridge/internal/registry"
	"github.com/telecare-labs/callbridge/internal/store"
)

// RateLimiter caps request rates per caller using fixed windows in Redis.
// The gateway is polled every 2-3 seconds per client, so the /rtc budget
// leaves generous headroom over two polling loops plus a signaling burst.
type RateLimiter struct {
	redis  *store.RedisStore
	logger zerolog.Logger
	limits map[string]limit
}

type limit struct {
	requests int64
	window   time.Duration
}

// NewRateLimiter creates a rate limiter. A nil redis store disables
// limiting (development mode).
func NewRateLimiter(redis *store.RedisStore, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
		limits: map[string]limit{
			"/rtc":    {120, time.Minute},
			"/health": {30, time.Minute},
		},
	}
}

// Middleware enforces the configured limits.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		lim, ok := rl.limits[r.URL.Path]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		caller := callerKey(r)
		count, err := rl.redis.IncrRateLimit(r.Context(), r.URL.Path, caller, lim.window)
		if err != nil {
			// Redis trouble should not take the gateway down with it.
			rl.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if count > lim.requests {
			metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()
			rl.logger.Info().
				Str("path", r.URL.Path).
				Str("caller", caller).
				Int64("count", count).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// callerKey identifies the caller: the hashed bearer token when present,
// the remote IP otherwise. Auth has not run yet at this point in the
// chain, so the raw token stands in for the identity.
func callerKey(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			return "tok:" + registry.HashToken(token)[:16]
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return "ip:" + host
}
