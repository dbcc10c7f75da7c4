// Package ledgerhttp exposes the posting and reversal engine over JSON.
package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/fault"
	"github.com/agriops/agriledger/internal/platform/httpx"
	"github.com/agriops/agriledger/internal/shared"
)

type ledgerService interface {
	Post(ctx context.Context, req ledger.PostingRequest) (ledger.PostingGroup, error)
	Reverse(ctx context.Context, req ledger.ReverseRequest) (ledger.PostingGroup, error)
	Unapply(ctx context.Context, tenantID, settlementID uuid.UUID, actorID string) (ledger.Settlement, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (ledger.PostingGroup, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ledger.ListFilter) ([]ledger.PostingGroup, shared.Pagination, error)
}

// Handler wires HTTP endpoints for posting groups and settlements.
type Handler struct {
	logger    *slog.Logger
	service   ledgerService
	validator *validator.Validate
}

// NewHandler constructs a ledger HTTP handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(shared.RequireTenant)
	r.Route("/postings", func(r chi.Router) {
		r.Get("/", h.listPostings)
		r.Post("/", h.createPosting)
		r.Get("/{id}", h.showPosting)
		r.Post("/{id}/reverse", h.reversePosting)
	})
	r.Post("/settlements/{id}/unapply", h.unapplySettlement)
}

type listResponse struct {
	Items      []GroupView       `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) createPosting(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	var in postingInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate(in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	group, err := h.service.Post(r.Context(), in.request(tenantID, shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, "post", err)
		return
	}
	status := http.StatusCreated
	if group.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, NewGroupView(group))
}

func (h *Handler) listPostings(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	filter, err := parseListFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	groups, page, err := h.service.List(r.Context(), tenantID, filter)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	items := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		items = append(items, NewGroupView(g))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: page})
}

func (h *Handler) showPosting(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	group, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewGroupView(group))
}

func (h *Handler) reversePosting(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in reverseInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate(in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, in.ReversalDate)
	group, err := h.service.Reverse(r.Context(), ledger.ReverseRequest{
		TenantID:       tenantID,
		PostingGroupID: id,
		ReversalDate:   date,
		Reason:         in.Reason,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "reverse", err)
		return
	}
	status := http.StatusCreated
	if group.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, NewGroupView(group))
}

func (h *Handler) unapplySettlement(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	settlement, err := h.service.Unapply(r.Context(), tenantID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "unapply", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewSettlementView(settlement))
}

func (h *Handler) validate(v any) error {
	if err := h.validator.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", httpx.ErrBadRequest, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %s", httpx.ErrBadRequest, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if fault.KindOf(err) == "" || errors.Is(err, fault.ErrIntegrity) {
		h.logger.Error("ledger request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", httpx.ErrBadRequest)
	}
	return id, nil
}

func parseListFilter(r *http.Request) (ledger.ListFilter, error) {
	q := r.URL.Query()
	filter := ledger.ListFilter{SourceType: ledger.SourceType(strings.ToUpper(q.Get("source_type")))}
	if filter.SourceType != "" && !filter.SourceType.Valid() {
		return filter, fmt.Errorf("%w: unknown source_type %q", httpx.ErrBadRequest, q.Get("source_type"))
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		t, err := httpx.Date(q.Get(name))
		if err != nil {
			return filter, err
		}
		if !t.IsZero() {
			*dst = &t
		}
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: active must be a boolean", httpx.ErrBadRequest)
		}
		filter.ActiveOnly = active
	}
	for name, dst := range map[string]*int{"page": &filter.Page, "per_page": &filter.PerPage} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return filter, fmt.Errorf("%w: %s must be a positive integer", httpx.ErrBadRequest, name)
			}
			*dst = n
		}
	}
	return filter, nil
}
