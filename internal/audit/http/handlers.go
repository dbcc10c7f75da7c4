// Package audithttp serves the tenant audit timeline.
package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agriops/agriledger/internal/audit"
	"github.com/agriops/agriledger/internal/platform/httpx"
	"github.com/agriops/agriledger/internal/shared"
)

const maxDateRange = 366 * 24 * time.Hour

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves audit timeline requests.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if result.Rows == nil {
		result.Rows = []audit.TimelineRow{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	data, err := audit.WriteCSV(rows)
	if err != nil {
		h.logger.Error("audit export csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-%s.csv"`, filters.TenantID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	filters := audit.TimelineFilters{
		TenantID: tenantID,
		Actor:    q.Get("actor"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
	}
	from, err := httpx.Date(q.Get("from"))
	if err != nil {
		return filters, err
	}
	to, err := httpx.Date(q.Get("to"))
	if err != nil {
		return filters, err
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() {
		if !to.After(from) {
			return filters, fmt.Errorf("%w: from must not be after to", httpx.ErrBadRequest)
		}
		if to.Sub(from) > maxDateRange {
			return filters, fmt.Errorf("%w: date range exceeds one year", httpx.ErrBadRequest)
		}
	}
	filters.From, filters.To = from, to
	for name, dst := range map[string]*int{"page": &filters.Page, "page_size": &filters.PageSize} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return filters, fmt.Errorf("%w: %s must be a positive integer", httpx.ErrBadRequest, name)
			}
			*dst = n
		}
	}
	return filters, nil
}
