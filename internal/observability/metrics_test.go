package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/ledger/fault"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	body := scrape(t, NewMetrics())
	require.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `agriledger_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `agriledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestLedgerMetricsOutcomes(t *testing.T) {
	metrics := NewMetrics()
	ledger := NewLedgerMetrics(metrics.Registerer())

	require.NoError(t, ledger.Track("post").End(nil))

	replay := ledger.Track("post")
	replay.Replayed()
	require.NoError(t, replay.End(nil))

	conflict := fault.Conflict("period closed")
	require.ErrorIs(t, ledger.Track("post").End(conflict), conflict)

	plain := errors.New("connection reset")
	require.ErrorIs(t, ledger.Track("reverse").End(plain), plain)

	require.Equal(t, 1.0, testutil.ToFloat64(ledger.operations.WithLabelValues("post", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(ledger.operations.WithLabelValues("post", "replay")))
	require.Equal(t, 1.0, testutil.ToFloat64(ledger.operations.WithLabelValues("post", "state_conflict")))
	require.Equal(t, 1.0, testutil.ToFloat64(ledger.operations.WithLabelValues("reverse", "error")))

	ledger.ObserveResidual("PAYABLE", 12.5)
	require.Equal(t, 12.5, testutil.ToFloat64(ledger.residual.WithLabelValues("payable")))
	require.True(t, strings.Contains(scrape(t, metrics), `agriledger_reconciliation_residual{side="payable"} 12.5`))
}

func TestNilTrackerIsInert(t *testing.T) {
	var m *LedgerMetrics
	tracker := m.Track("post")
	tracker.Replayed()
	err := errors.New("boom")
	require.Equal(t, err, tracker.End(err))
	m.ObserveResidual("receivable", 1)
}
