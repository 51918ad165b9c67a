package common

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// Idem implements Idempotency-Key for write endpoints. The first request
// with a key runs and its response is stored; repeats get the stored
// response back, and repeats racing the first one get 409. Keys are scoped
// to the calling register and route so two devices never collide.
type Idem struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Location    string `json:"location,omitempty"`
	Body        []byte `json:"body"`
}

func (i Idem) key(r *http.Request, header string) string {
	register, _ := RegisterID(r.Context())
	prefix := i.Prefix
	if prefix == "" {
		prefix = "idem"
	}
	return prefix + ":" + Digest(register, r.Method+" "+r.URL.Path, header)
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

// Middleware enforces idempotency semantics.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.key(r, header)
		claimed, err := i.R.SetNX(ctx, key, idemPending, i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !claimed {
			i.replay(ctx, w, key)
			return
		}

		rec := &capture{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			bg := context.WithoutCancel(ctx)
			// Server errors and panics free the key so the client can retry.
			if !completed || rec.status >= http.StatusInternalServerError {
				_ = i.R.Del(bg, key).Err()
				return
			}
			encoded, err := json.Marshal(storedResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Location:    rec.Header().Get("Location"),
				Body:        rec.body.Bytes(),
			})
			if err == nil {
				_ = i.R.Set(bg, key, encoded, i.ttl()).Err()
			}
		}()
		next.ServeHTTP(rec, r)
		completed = true
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Result()
	if err != nil || raw == idemPending {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "request with this key is still in progress", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	if stored.Location != "" {
		w.Header().Set("Location", stored.Location)
	}
	w.Header().Set("Idempotent-Replayed", strconv.FormatBool(true))
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capture) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
