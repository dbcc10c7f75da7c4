// Package subledgerhttp serves aging, reconciliation and summary reports.
package subledgerhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/fault"
	"github.com/agriops/agriledger/internal/platform/httpx"
	"github.com/agriops/agriledger/internal/shared"
	"github.com/agriops/agriledger/internal/subledger"
)

type reportService interface {
	Aging(ctx context.Context, tenantID uuid.UUID, side subledger.Side, asOf time.Time) (subledger.AgingReport, error)
	Reconcile(ctx context.Context, tenantID uuid.UUID, side subledger.Side, asOf time.Time) (subledger.Reconciliation, error)
	Summary(ctx context.Context, tenantID uuid.UUID, filter subledger.SummaryFilter) (subledger.SummaryReport, error)
}

// Handler wires HTTP endpoints for subledger reports.
type Handler struct {
	logger  *slog.Logger
	service reportService
}

// NewHandler constructs a subledger HTTP handler.
func NewHandler(logger *slog.Logger, service reportService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(shared.RequireTenant)
	r.Get("/summary", h.summary)
	r.Get("/{side}/aging", h.aging)
	r.Get("/{side}/reconciliation", h.reconciliation)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	side, asOf, err := sideAndDate(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Aging(r.Context(), tenantID, side, asOf)
	if err != nil {
		h.fail(w, "aging", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newAgingView(report))
}

func (h *Handler) reconciliation(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	side, asOf, err := sideAndDate(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Reconcile(r.Context(), tenantID, side, asOf)
	if err != nil {
		h.fail(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newReconciliationView(rec))
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	filter, err := parseSummaryFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Summary(r.Context(), tenantID, filter)
	if err != nil {
		h.fail(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSummaryView(report))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if fault.KindOf(err) == "" {
		h.logger.Error("subledger request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func sideAndDate(r *http.Request) (subledger.Side, time.Time, error) {
	side, err := subledger.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		return "", time.Time{}, err
	}
	asOf, err := httpx.Date(r.URL.Query().Get("as_of"))
	return side, asOf, err
}

func parseSummaryFilter(r *http.Request) (subledger.SummaryFilter, error) {
	q := r.URL.Query()
	var (
		filter subledger.SummaryFilter
		err    error
	)
	if filter.From, err = httpx.Date(q.Get("from")); err != nil {
		return filter, err
	}
	if filter.To, err = httpx.Date(q.Get("to")); err != nil {
		return filter, err
	}
	filter.GroupBy = subledger.GroupBy(strings.ToUpper(q.Get("group_by")))
	filter.Role = accounts.Role(strings.ToUpper(q.Get("role")))
	ids := map[string]**uuid.UUID{
		"party_id":      &filter.PartyID,
		"project_id":    &filter.ProjectID,
		"crop_cycle_id": &filter.CropCycleID,
	}
	for name, dst := range ids {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be a uuid", httpx.ErrBadRequest, name)
		}
		*dst = &id
	}
	return filter, nil
}
