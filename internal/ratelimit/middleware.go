package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// KeyFunc derives the bucket for a request.
type KeyFunc func(*http.Request) string

// ByRegister buckets by authenticated register, falling back to client IP.
func ByRegister(scope string) KeyFunc {
	return func(r *http.Request) string {
		if id, ok := common.RegisterID(r.Context()); ok {
			return scope + ":register:" + id
		}
		return scope + ":ip:" + common.ClientIP(r)
	}
}

// Handler enforces Max events per Window before delegating.
type Handler struct {
	Limiter Limiter
	Key     KeyFunc
	Window  time.Duration
	Max     int
	Logger  zerolog.Logger
}

// Middleware fails open when Redis is unavailable.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Key(r)
		d, err := h.Limiter.Allow(r.Context(), key, h.Window, h.Max)
		if err != nil {
			h.Logger.Warn().Err(err).Str("key", key).Msg("ratelimit_unavailable")
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(max(h.Max, 0)))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed {
			wait := int(time.Until(d.ResetAt).Round(time.Second).Seconds())
			headers.Set("Retry-After", strconv.Itoa(max(wait, 1)))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
