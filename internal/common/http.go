package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address. chi's RealIP middleware runs first in
// the router, so RemoteAddr already reflects X-Forwarded-For when a proxy set
// it; the headers are only consulted for handlers mounted outside it.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr != "" {
		return addr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}
