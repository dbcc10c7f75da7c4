package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/audit"
	"github.com/agriops/agriledger/internal/shared"
)

type stubTimelineService struct {
	lastFilters audit.TimelineFilters
	rows        []audit.TimelineRow
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return audit.Result{Rows: s.rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}, nil
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.rows, nil
}

func newRouter(svc *stubTimelineService) http.Handler {
	r := chi.NewRouter()
	r.Route("/audit", NewHandler(nil, svc).MountRoutes)
	return r
}

func get(router http.Handler, tenant uuid.UUID, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(shared.TenantHeader, tenant.String())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandleTimelineParsesFilters(t *testing.T) {
	svc := &stubTimelineService{rows: []audit.TimelineRow{{
		At: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), Actor: "clerk", Action: "ledger.post", Entity: "posting_group", EntityID: "42",
	}}}
	tenant := uuid.New()

	rr := get(newRouter(svc), tenant, "/audit?from=2025-03-01&to=2025-03-31&entity=posting_group&entity_id=42&page=2")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, tenant, svc.lastFilters.TenantID)
	require.Equal(t, "2025-03-01", svc.lastFilters.From.Format(time.DateOnly))
	require.Equal(t, "2025-04-01", svc.lastFilters.To.Format(time.DateOnly))
	require.Equal(t, "42", svc.lastFilters.EntityID)
	require.Equal(t, 2, svc.lastFilters.Page)

	var body audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, "ledger.post", body.Rows[0].Action)
}

func TestHandleTimelineRejectsBadRange(t *testing.T) {
	router := newRouter(&stubTimelineService{})
	tenant := uuid.New()
	for _, q := range []string{"from=2025-04-01&to=2025-03-01", "from=2023-01-01&to=2025-01-01", "page=-1", "from=yesterday"} {
		require.Equal(t, http.StatusBadRequest, get(router, tenant, "/audit?"+q).Code, q)
	}
}

func TestHandleExportCSVIsRateLimitedPerTenant(t *testing.T) {
	svc := &stubTimelineService{rows: []audit.TimelineRow{{Action: "ledger.unapply", Entity: "settlement", EntityID: "s-1"}}}
	router := newRouter(svc)
	tenant := uuid.New()

	rr := get(router, tenant, "/audit/export.csv")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rr.Body.String(), "at,actor,action"))
	require.Contains(t, rr.Body.String(), "ledger.unapply")

	for i := 1; i < rateLimit; i++ {
		require.Equal(t, http.StatusOK, get(router, tenant, "/audit/export.csv").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, get(router, tenant, "/audit/export.csv").Code)
	require.Equal(t, http.StatusOK, get(router, uuid.New(), "/audit/export.csv").Code)
	require.Equal(t, http.StatusOK, get(router, tenant, "/audit").Code)
}
