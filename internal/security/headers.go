// Package security holds the HTTP hardening middleware mounted ahead of the
// API routes.
package security

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
	"github.com/unrolled/secure"
)

// Headers returns response hardening for a JSON-only API. HSTS is sent in
// production and only over TLS or behind a proxy reporting https.
func Headers(production bool) func(http.Handler) http.Handler {
	opts := secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		PermissionsPolicy:     "geolocation=(), microphone=(), camera=()",
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !production,
	}
	if production {
		opts.STSSeconds = 31536000
		opts.STSIncludeSubdomains = true
	}
	return secure.New(opts).Handler
}

// CORS allows the given browser origins. An empty list allows any origin.
// Credentials are never allowed since registers authenticate with bearer
// tokens.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{
			"Location", "X-Request-ID", "X-Total-Count", "Idempotent-Replayed",
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After",
		},
		MaxAge: 300,
	})
}
