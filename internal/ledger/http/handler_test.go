package ledgerhttp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/ledgertest"
	"github.com/agriops/agriledger/internal/platform/httpx"
	"github.com/agriops/agriledger/internal/shared"
)

type testServer struct {
	router http.Handler
	store  *ledgertest.Store
	chart  ledgertest.Chart
	tenant uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tenant := uuid.New()
	store := ledgertest.NewStore()
	chart := ledgertest.NewChart(tenant)
	store.AddCatalog(chart.Catalog)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ledger.NewService(store, nil, nil, logger, ledger.Config{})
	svc.WithNow(func() time.Time { return time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC) })
	r := chi.NewRouter()
	r.Route("/ledger", NewHandler(logger, svc).MountRoutes)
	return &testServer{router: r, store: store, chart: chart, tenant: tenant}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(shared.TenantHeader, s.tenant.String())
	req.Header.Set(shared.ActorHeader, "clerk-7")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) receiptBody(sourceID, date string) string {
	return fmt.Sprintf(`{
		"source_type": "GRN",
		"source_id": %q,
		"posting_date": %q,
		"lines": [
			{"account_id": %q, "debit": "125.5"},
			{"account_id": %q, "credit": "125.5"}
		],
		"allocations": [{"mode": "FULL_PARTY", "role": "AP", "party_id": %q}]
	}`, sourceID, date, s.chart.ID(accounts.RoleInventory), s.chart.ID(accounts.RoleAP), uuid.New())
}

func decodeGroup(t *testing.T, rr *httptest.ResponseRecorder) GroupView {
	t.Helper()
	var v GroupView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestCreatePostingThenReplay(t *testing.T) {
	s := newTestServer(t)
	body := s.receiptBody("GRN-100", "2025-04-02")

	rr := s.do(t, http.MethodPost, "/ledger/postings", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeGroup(t, rr)
	require.Equal(t, "2025-04-02", created.PostingDate)
	require.True(t, created.Active)
	require.Len(t, created.Entries, 2)
	require.Equal(t, "125.50", created.Entries[0].Debit)
	require.Equal(t, "0.00", created.Entries[0].Credit)
	require.Equal(t, "125.50", created.Rows[0].Amount)

	rr = s.do(t, http.MethodPost, "/ledger/postings", body)
	require.Equal(t, http.StatusOK, rr.Code)
	replayed := decodeGroup(t, rr)
	require.Equal(t, created.ID, replayed.ID)
	require.True(t, replayed.Replayed)

	rr = s.do(t, http.MethodGet, "/ledger/postings/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, created.ID, decodeGroup(t, rr).ID)
}

func TestCreatePostingRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	cases := map[string]string{
		"malformed":     `{"source_type":`,
		"unknown field": `{"source_type":"GRN","colour":"red"}`,
		"bad date":      strings.Replace(s.receiptBody("GRN-1", "2025-04-02"), "2025-04-02", "02/04/2025", 1),
		"one line":      `{"source_type":"GRN","source_id":"X","posting_date":"2025-04-02","lines":[{"account_id":"` + uuid.NewString() + `","debit":"1"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/ledger/postings", body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			require.Equal(t, "Validation Failed", decodeProblem(t, rr).Title)
		})
	}
}

func TestUnbalancedPostingIsIntegrityFault(t *testing.T) {
	s := newTestServer(t)
	body := strings.Replace(s.receiptBody("GRN-2", "2025-04-02"), `"credit": "125.5"`, `"credit": "125.4"`, 1)

	rr := s.do(t, http.MethodPost, "/ledger/postings", body)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "Integrity Fault", decodeProblem(t, rr).Title)
	require.Empty(t, s.store.Groups(s.tenant))
}

func TestReverseEndpoint(t *testing.T) {
	s := newTestServer(t)
	created := decodeGroup(t, s.do(t, http.MethodPost, "/ledger/postings", s.receiptBody("GRN-3", "2025-04-02")))
	path := "/ledger/postings/" + created.ID.String() + "/reverse"

	rr := s.do(t, http.MethodPost, path, `{"reversal_date":"2025-04-03"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, path, `{"reversal_date":"2025-04-03","reason":"wrong supplier"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	reversal := decodeGroup(t, rr)
	require.Equal(t, ledger.SourceReversal, reversal.SourceType)
	require.Equal(t, created.ID, *reversal.ReversalOf)

	rr = s.do(t, http.MethodPost, path, `{"reversal_date":"2025-04-09","reason":"again"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/ledger/postings/"+reversal.ID.String()+"/reverse", `{"reversal_date":"2025-04-03","reason":"undo"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodGet, "/ledger/postings?active=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, reversal.ID, list.Items[0].ID)
	require.Equal(t, 1, list.Pagination.Total)
}

func TestLookupsAreTenantScoped(t *testing.T) {
	s := newTestServer(t)
	created := decodeGroup(t, s.do(t, http.MethodPost, "/ledger/postings", s.receiptBody("GRN-4", "2025-04-02")))

	req := httptest.NewRequest(http.MethodGet, "/ledger/postings/"+created.ID.String(), nil)
	req.Header.Set(shared.TenantHeader, uuid.NewString())
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/ledger/postings", nil)
	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/ledger/settlements/"+uuid.NewString()+"/unapply", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListFilterParsing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ledger/postings?source_type=grn&from=2025-01-01&page=2&per_page=5", nil)
	filter, err := parseListFilter(req)
	require.NoError(t, err)
	require.Equal(t, ledger.SourceGoodsReceipt, filter.SourceType)
	require.Equal(t, "2025-01-01", filter.From.Format(time.DateOnly))
	require.Nil(t, filter.To)
	require.Equal(t, 2, filter.Page)
	require.Equal(t, 5, filter.PerPage)

	for _, q := range []string{"source_type=LOAN", "from=yesterday", "active=maybe", "page=0"} {
		_, err := parseListFilter(httptest.NewRequest(http.MethodGet, "/ledger/postings?"+q, nil))
		require.Error(t, err, q)
	}
}
