package security

import (
	"net/http"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Default request body limits.
const (
	DefaultJSONLimit   int64 = 1 << 20
	DefaultUploadLimit int64 = 5 << 20
)

// BodyLimit caps request bodies at Max bytes. A declared Content-Length over
// the cap is refused up front; otherwise the body is wrapped so the decoder
// fails once it reads past the cap.
type BodyLimit struct {
	Max int64
}

// Middleware applies the limit.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", map[string]any{"maxBytes": b.Max})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}
