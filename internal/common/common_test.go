package common_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/common"
)

func TestWriteAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	err := common.NewAppError("SUBSCRIPTION_LIMIT", "limit reached", http.StatusPaymentRequired, nil).
		WithDetails(map[string]any{"limit": 20})
	require.True(t, common.WriteAppError(rr, errors.Join(errors.New("ctx"), err)))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.JSONEq(t, `{"error":{"code":"SUBSCRIPTION_LIMIT","message":"limit reached","details":{"limit":20}}}`, rr.Body.String())
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	require.False(t, common.WriteAppError(httptest.NewRecorder(), errors.New("plain")))
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"kopi"}`))
	require.True(t, common.DecodeJSON(httptest.NewRecorder(), req, &dst))
	require.Equal(t, "kopi", dst.Name)

	rr := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	require.False(t, common.DecodeJSON(rr, req, &dst))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("x", 64)+`"}`))
	req.Body = http.MaxBytesReader(rr, req.Body, 16)
	require.False(t, common.DecodeJSON(rr, req, &dst))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestPagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/items?page=3&limit=10", nil)
	page, perPage := common.ParsePagination(req, 50)
	require.Equal(t, 3, page)
	require.Equal(t, 10, perPage)
	require.Equal(t, 20, common.Offset(page, perPage))
	require.Equal(t, 3, common.NewPagination(page, perPage, 21).TotalPages)

	req = httptest.NewRequest(http.MethodGet, "/items?page=-1&limit=x", nil)
	page, perPage = common.ParsePagination(req, 50)
	require.Equal(t, 1, page)
	require.Equal(t, 50, perPage)
	require.Zero(t, common.NewPagination(1, 0, 5).TotalPages)
}

func TestAtoiDefaultAndClamp(t *testing.T) {
	require.Equal(t, 7, common.AtoiDefault(" 7 ", 1))
	require.Equal(t, 1, common.AtoiDefault("seven", 1))
	require.Equal(t, 200, common.ClampInt(500, 1, 200))
	require.Equal(t, 1, common.ClampInt(-3, 1, 200))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:51234"
	require.Equal(t, "10.0.0.5", common.ClientIP(req))

	req.RemoteAddr = ""
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", common.ClientIP(req))
}

func TestDigest(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", common.Digest())
	key := common.Digest("register-1", "POST /api/v1/bills", "abc")
	require.Len(t, key, 64)
	require.Equal(t, key, common.Digest("register-1", "POST /api/v1/bills", "abc"))
	require.NotEqual(t, key, common.Digest("register-2", "POST /api/v1/bills", "abc"))
}
