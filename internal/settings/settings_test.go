package settings_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk error")
}
func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("disk error")
}
func (brokenStore) Delete(context.Context, ...string) error { return nil }

func TestDefaultsWhenEmpty(t *testing.T) {
	s := settings.NewStore(kv.NewMemory(), zerolog.Nop())
	got := s.Get(context.Background())
	require.Equal(t, "My Business", got.Business.Name)
	require.Equal(t, "123 Business St, City", got.Business.Address)
	require.Equal(t, tax.ModeNone, got.Tax.Mode)
	require.Equal(t, settings.Width2Inch, got.ReceiptWidth)
}

func TestReadFailureFallsBackToDefaults(t *testing.T) {
	s := settings.NewStore(brokenStore{}, zerolog.Nop())
	require.Equal(t, settings.Defaults(), s.Get(context.Background()))

	_, err := s.Update(context.Background(), settings.Patch{AutoPrint: boolPtr(true)})
	require.Error(t, err)
}

func TestUpdateMergesAndValidates(t *testing.T) {
	ctx := context.Background()
	s := settings.NewStore(kv.NewMemory(), zerolog.Nop())

	gst := tax.Settings{Mode: tax.ModeGST, CGSTRate: 9, SGSTRate: 9, IGSTRate: 18, CalculationType: tax.Exclusive, GSTType: tax.Intrastate}
	width := settings.Width3Inch
	out, err := s.Update(ctx, settings.Patch{
		Business:     &settings.Business{Name: "Toko Maju", Address: "Jl. Merdeka 1", Phone: "0812"},
		Tax:          &gst,
		ReceiptWidth: &width,
		AutoPrint:    boolPtr(true),
	})
	require.NoError(t, err)
	require.Equal(t, "Toko Maju", out.Business.Name)
	require.True(t, out.AutoPrint)

	reloaded := s.Get(ctx)
	require.Equal(t, out, reloaded)

	bad := 40
	_, err = s.Update(ctx, settings.Patch{ReceiptWidth: &bad})
	require.ErrorIs(t, err, settings.ErrInvalidInput)

	neg := tax.Settings{Mode: tax.ModeSingle, SingleTaxRate: -1, CalculationType: tax.Exclusive, GSTType: tax.Intrastate}
	_, err = s.Update(ctx, settings.Patch{Tax: &neg})
	require.ErrorIs(t, err, settings.ErrInvalidInput)
	require.Equal(t, tax.ModeGST, s.Get(ctx).Tax.Mode)
}

func TestHandlers(t *testing.T) {
	h := settings.NewHandler(settings.NewStore(kv.NewMemory(), zerolog.Nop()))

	rec := httptest.NewRecorder()
	h.Update(rec, httptest.NewRequest(http.MethodPatch, "/api/v1/settings", strings.NewReader(`{"defaultTaxRate":7}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"defaultTaxRate":7`)

	rec = httptest.NewRecorder()
	h.Update(rec, httptest.NewRequest(http.MethodPatch, "/api/v1/settings", strings.NewReader(`{"defaultTaxRate":170}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "My Business")
}

func TestTaxPreview(t *testing.T) {
	store := settings.NewStore(kv.NewMemory(), zerolog.Nop())
	h := settings.NewHandler(store)
	gst := tax.Settings{Mode: tax.ModeGST, CGSTRate: 9, SGSTRate: 9, IGSTRate: 18, CalculationType: tax.Inclusive, GSTType: tax.Intrastate}
	_, err := store.Update(context.Background(), settings.Patch{Tax: &gst})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.TaxPreview(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings/tax/preview?amount=1180", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Calculation tax.Calculation `json:"calculation"`
			Totals      tax.Totals      `json:"totals"`
			Lines       []string        `json:"lines"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.InDelta(t, 1000, body.Data.Calculation.Subtotal, 1e-6)
	require.InDelta(t, 180, body.Data.Calculation.Tax, 1e-6)
	require.InDelta(t, 1180, body.Data.Calculation.Total, 1e-6)
	require.InDelta(t, 90, body.Data.Totals.CGST, 1e-6)
	require.InDelta(t, 90, body.Data.Totals.SGST, 1e-6)
	require.Zero(t, body.Data.Totals.IGST)
	require.Equal(t, []string{"CGST (9%): ₹90.00", "SGST (9%): ₹90.00"}, body.Data.Lines)

	for _, q := range []string{"", "?amount=abc", "?amount=-5"} {
		rec = httptest.NewRecorder()
		h.TaxPreview(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings/tax/preview"+q, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestTaxPreviewWithoutTax(t *testing.T) {
	h := settings.NewHandler(settings.NewStore(kv.NewMemory(), zerolog.Nop()))
	rec := httptest.NewRecorder()
	h.TaxPreview(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings/tax/preview?amount=250", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"lines":[]`)
	require.Contains(t, rec.Body.String(), `"total":250`)
}

func boolPtr(v bool) *bool { return &v }
