package documentshttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/documents"
	"github.com/agriops/agriledger/internal/ledger"
	ledgerhttp "github.com/agriops/agriledger/internal/ledger/http"
	"github.com/agriops/agriledger/internal/ledger/ledgertest"
	"github.com/agriops/agriledger/internal/shared"
	"github.com/agriops/agriledger/internal/subledger"
)

type testServer struct {
	router http.Handler
	store  *ledgertest.Store
	tenant uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tenant := uuid.New()
	store := ledgertest.NewStore()
	store.AddCatalog(ledgertest.NewChart(tenant).Catalog)
	now := func() time.Time { return time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC) }
	posting := ledger.NewService(store, nil, nil, nil, ledger.Config{})
	posting.WithNow(now)
	reports := subledger.NewService(store, nil, nil)
	reports.WithNow(now)
	svc := documents.NewService(store, posting, reports, nil)

	r := chi.NewRouter()
	r.Route("/documents", NewHandler(nil, svc, documents.NewDecoder()).MountRoutes)
	return &testServer{router: r, store: store, tenant: tenant}
}

func (s *testServer) post(t *testing.T, kind, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/documents/"+kind, strings.NewReader(body))
	req.Header.Set(shared.TenantHeader, s.tenant.String())
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func grnBody(number string, supplier uuid.UUID, date string) string {
	return fmt.Sprintf(`{
		"posting_date": %q,
		"due_date": %q,
		"document": {"number": %q, "supplier_id": %q, "item_id": %q, "quantity": "10", "unit_cost": "4.25"}
	}`, date, date, number, supplier, uuid.New())
}

func decodeGroup(t *testing.T, rr *httptest.ResponseRecorder) ledgerhttp.GroupView {
	t.Helper()
	var v ledgerhttp.GroupView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestPostGoodsReceipt(t *testing.T) {
	s := newTestServer(t)
	body := grnBody("GRN-77", uuid.New(), "2025-06-01")

	rr := s.post(t, "grn", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeGroup(t, rr)
	require.Equal(t, ledger.SourceGoodsReceipt, created.SourceType)
	require.Equal(t, "GRN-77", created.SourceID)
	require.Equal(t, "2025-06-01", created.DueDate)
	require.Equal(t, "42.50", created.Entries[0].Debit)

	rr = s.post(t, "GRN", body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, created.ID, decodeGroup(t, rr).ID)
	require.Len(t, s.store.Groups(s.tenant), 1)
}

func TestPaymentAutoAppliesAgainstOpenReceipts(t *testing.T) {
	s := newTestServer(t)
	supplier := uuid.New()
	require.Equal(t, http.StatusCreated, s.post(t, "grn", grnBody("GRN-1", supplier, "2025-06-01")).Code)

	rr := s.post(t, "payment", fmt.Sprintf(`{
		"posting_date": "2025-06-10",
		"document": {"number": "PAY-1", "direction": "PAID", "party_id": %q, "amount": "20", "auto_apply": true}
	}`, supplier))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	payment := decodeGroup(t, rr)
	require.Len(t, payment.Settlements, 1)
	require.Equal(t, "20.00", payment.Settlements[0].Amount)
	require.Equal(t, ledger.SettlementActive, payment.Settlements[0].Status)
}

func TestPostDocumentRejections(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name   string
		kind   string
		body   string
		status int
	}{
		{"unknown kind", "loan", grnBody("X", uuid.New(), "2025-06-01"), http.StatusBadRequest},
		{"missing date", "grn", `{"document": {"number": "G"}}`, http.StatusBadRequest},
		{"missing document", "grn", `{"posting_date": "2025-06-01"}`, http.StatusBadRequest},
		{"invalid variant", "payment", `{"posting_date": "2025-06-01", "document": {"number": "P", "direction": "LENT"}}`, http.StatusBadRequest},
		{"negative stock", "sale", fmt.Sprintf(`{"posting_date": "2025-06-01", "document": {"number": "S-1", "customer_id": %q, "item_id": %q, "project_id": %q, "quantity": "1", "unit_price": "9", "unit_cost": "4"}}`, uuid.New(), uuid.New(), uuid.New()), http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.post(t, tc.kind, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
		})
	}
	require.Empty(t, s.store.Groups(s.tenant))
}

func TestListKinds(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/documents/kinds", nil)
	req.Header.Set(shared.TenantHeader, s.tenant.String())
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Kinds []ledger.SourceType `json:"kinds"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Contains(t, body.Kinds, ledger.SourceLeaseAccrual)
	require.NotContains(t, body.Kinds, ledger.SourceReversal)
}
