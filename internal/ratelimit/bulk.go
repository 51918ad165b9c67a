package ratelimit

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Bulk throttles heavy endpoints such as CSV import and export. Counters
// are local to the process, which is enough to stop a register looping on
// an export.
func Bulk(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ByRegister("bulk")(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many bulk requests, try again later", nil)
		}),
	)
}
