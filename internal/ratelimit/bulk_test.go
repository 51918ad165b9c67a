package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/common"
)

func TestBulkLimitsPerRegister(t *testing.T) {
	h := Bulk(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	call := func(register string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/customers/export", nil)
		req.RemoteAddr = "10.1.1.1:4000"
		req = req.WithContext(common.WithRegisterID(req.Context(), register))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusOK, call("reg-a"))
	require.Equal(t, http.StatusOK, call("reg-a"))
	require.Equal(t, http.StatusTooManyRequests, call("reg-a"))
	// Same IP, different register: separate bucket.
	require.Equal(t, http.StatusOK, call("reg-b"))
}

func TestBulkDisabled(t *testing.T) {
	h := Bulk(0, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for range 5 {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusNoContent, rr.Code)
	}
}
