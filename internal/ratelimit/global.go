package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// NewStore picks the fixed-window store: Redis when a client is given so
// every API replica shares the budget, process memory otherwise.
func NewStore(client *redis.Client, prefix string) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}), nil
	}
	return limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
}

// Global is the coarse per-client budget applied to every API request.
// Rates use the "<limit>-<period>" format, e.g. "300-M".
type Global struct {
	Limiter *limiter.Limiter
	Key     KeyFunc
	Logger  zerolog.Logger
}

// NewGlobal parses rate and builds a Global keyed by client IP.
func NewGlobal(rate string, store limiter.Store, logger zerolog.Logger) (Global, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return Global{}, err
	}
	return Global{
		Limiter: limiter.New(store, parsed),
		Key:     func(r *http.Request) string { return "ip:" + common.ClientIP(r) },
		Logger:  logger,
	}, nil
}

// Middleware fails open on store errors like Handler does.
func (g Global) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Limiter == nil || g.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := g.Key(r)
		lctx, err := g.Limiter.Get(r.Context(), key)
		if err != nil {
			g.Logger.Warn().Err(err).Str("key", key).Msg("ratelimit_unavailable")
			next.ServeHTTP(w, r)
			return
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
		if lctx.Reached {
			wait := lctx.Reset - time.Now().Unix()
			headers.Set("Retry-After", strconv.FormatInt(max(wait, 1), 10))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
