package audit

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/obs"
)

// HTTPRecorder records requests after they have been handled.
type HTTPRecorder struct {
	Service *Service
	Logger  zerolog.Logger
}

// HTTPConfig customises the entry produced for a route.
type HTTPConfig struct {
	Action          string
	Resource        string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware returns chi middleware that audits the wrapped route. Only
// requests that reached the handler logic are kept; 4xx validation noise
// below 404 is skipped.
func (rec HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if rec.Service == nil || !rec.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}
			recorder := obs.NewStatusRecorder(w)
			next.ServeHTTP(recorder, req)

			status := recorder.Status()
			if status >= http.StatusBadRequest && status < http.StatusNotFound {
				return
			}
			entry := Entry{Action: cfg.Action, Resource: cfg.Resource, Status: status}
			if cfg.ResourceIDParam != "" {
				entry.ResourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			if cfg.MetadataFunc != nil {
				if payload := cfg.MetadataFunc(req, status); payload != nil {
					if data, err := json.Marshal(payload); err == nil {
						entry.Metadata = data
					}
				}
			}
			// The client may be gone by now; the trail must still be written.
			ctx := context.WithoutCancel(req.Context())
			if err := rec.Service.Record(ctx, req, entry); err != nil {
				rec.Logger.Error().Err(err).Str("action", entry.Action).Msg("audit_record_failed")
			}
		})
	}
}
