package obs_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/obs"
)

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("kasir", []float64{10, 1}, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/api/v1/bills/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"b1", "b2"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/bills/"+id, nil))
		require.Equal(t, http.StatusNoContent, rr.Code)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/bills/{id}", "204")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))

	// A second registration reuses the collectors.
	again := obs.NewHTTPMetrics("kasir", nil, registry)
	require.Same(t, metrics.ReqTotal, again.ReqTotal)
}

func TestRequestLoggerIncludesRegister(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(common.WithRegisterID(req.Context(), "register-1")))
		})
	})
	r.Use(obs.RequestLogger{Logger: zerolog.New(&buf)}.Middleware)
	r.Post("/api/v1/bills", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil))

	line := buf.String()
	require.Contains(t, line, `"message":"http_request"`)
	require.Contains(t, line, `"status":201`)
	require.Contains(t, line, `"route":"/api/v1/bills"`)
	require.Contains(t, line, `"register_id":"register-1"`)
	require.Contains(t, line, `"bytes":2`)
}

func TestTracingNamesSpanAfterRoute(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	r := chi.NewRouter()
	r.Use(obs.Tracing("kasir-api"))
	r.Get("/api/v1/bills/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/bills/b9", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "GET /api/v1/bills/{id}", spans[0].Name)
}

func TestDomainMetricsRecord(t *testing.T) {
	obs.MustRegisterDomainMetrics("kasir_test", prometheus.NewRegistry())
	before := testutil.ToFloat64(obs.BillsCreatedTotal.WithLabelValues("ok"))
	obs.RecordBillCreated("ok")
	require.Equal(t, before+1, testutil.ToFloat64(obs.BillsCreatedTotal.WithLabelValues("ok")))

	printed := testutil.ToFloat64(obs.PrintJobsTotal.WithLabelValues("failed"))
	obs.RecordPrint("failed", 12)
	require.Equal(t, printed+1, testutil.ToFloat64(obs.PrintJobsTotal.WithLabelValues("failed")))
}
