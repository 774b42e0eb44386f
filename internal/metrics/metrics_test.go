package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/eugenenazirov/pack-fulfillment/internal/metrics"
)

func TestMiddlewareLabelsMatchedRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New("packs", registry)

	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/pack-sizes/{size}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := m.Middleware(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/pack-sizes/250", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	total := testutil.ToFloat64(m.ReqTotal.WithLabelValues(http.MethodDelete, "DELETE /api/pack-sizes/{size}", "404"))
	require.Equal(t, float64(1), total)
	require.NotZero(t, testutil.CollectAndCount(m.ReqDur))
	require.Equal(t, float64(0), testutil.ToFloat64(m.InFlight))
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	m := metrics.New("packs", prometheus.NewRegistry())
	handler := m.Middleware(http.NewServeMux())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, float64(1), testutil.ToFloat64(m.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
}

func TestDomainCollectors(t *testing.T) {
	m := metrics.New("packs", prometheus.NewRegistry())

	m.ObserveCalculation(metrics.OutcomeSuccess, 3*time.Millisecond)
	m.ObserveCalculation(metrics.OutcomeRejected, 0)
	m.ObserveMutation("add", metrics.OutcomeSuccess)
	m.ObserveMutation("add", metrics.OutcomeRejected)
	m.SetPackSizes(5)

	require.Equal(t, float64(1), testutil.ToFloat64(m.CalcTotal.WithLabelValues(metrics.OutcomeSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.CalcTotal.WithLabelValues(metrics.OutcomeRejected)))
	require.Equal(t, 1, testutil.CollectAndCount(m.CalcDur))
	require.Equal(t, float64(1), testutil.ToFloat64(m.MutateTotal.WithLabelValues("add", metrics.OutcomeRejected)))
	require.Equal(t, float64(5), testutil.ToFloat64(m.PackSizes))
}

func TestNewToleratesDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := metrics.New("packs", registry)
	second := metrics.New("packs", registry)

	second.ObserveMutation("remove", metrics.OutcomeSuccess)
	require.Equal(t, float64(1), testutil.ToFloat64(first.MutateTotal.WithLabelValues("remove", metrics.OutcomeSuccess)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics

	m.ObserveCalculation(metrics.OutcomeSuccess, time.Second)
	m.ObserveMutation("add", metrics.OutcomeSuccess)
	m.SetPackSizes(1)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}
