package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestGlobalMemoryStoreLimitsPerIP(t *testing.T) {
	store, err := NewStore(nil, "global")
	require.NoError(t, err)
	g, err := NewGlobal("2-M", store, zerolog.Nop())
	require.NoError(t, err)
	handler := g.Middleware(okHandler())

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusOK, call("10.0.0.1:1000").Code)
	rr := call("10.0.0.1:1001")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	blocked := call("10.0.0.1:1002")
	require.Equal(t, http.StatusTooManyRequests, blocked.Code)
	require.NotEmpty(t, blocked.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, call("10.0.0.2:1000").Code)
}

func TestGlobalRedisStore(t *testing.T) {
	_, client := newClient(t)
	store, err := NewStore(client, "global")
	require.NoError(t, err)
	g, err := NewGlobal("1-H", store, zerolog.Nop())
	require.NoError(t, err)
	handler := g.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestNewGlobalRejectsBadRate(t *testing.T) {
	store, err := NewStore(nil, "")
	require.NoError(t, err)
	_, err = NewGlobal("lots", store, zerolog.Nop())
	require.Error(t, err)
}

func TestGlobalWithoutLimiterPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	Global{}.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
