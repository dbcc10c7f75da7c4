// Package documentshttp accepts business documents and posts them.
package documentshttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/documents"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/fault"
	ledgerhttp "github.com/agriops/agriledger/internal/ledger/http"
	"github.com/agriops/agriledger/internal/platform/httpx"
	"github.com/agriops/agriledger/internal/shared"
)

type documentService interface {
	Post(ctx context.Context, h documents.Header, doc documents.Document) (ledger.PostingGroup, error)
}

type documentDecoder interface {
	Decode(kind ledger.SourceType, raw json.RawMessage) (documents.Document, error)
}

// Handler wires HTTP endpoints for document posting.
type Handler struct {
	logger    *slog.Logger
	service   documentService
	decoder   documentDecoder
	validator *validator.Validate
}

// NewHandler constructs a documents HTTP handler.
func NewHandler(logger *slog.Logger, service documentService, decoder documentDecoder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, decoder: decoder, validator: validator.New()}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(shared.RequireTenant)
	r.Get("/kinds", h.listKinds)
	r.Post("/{kind}", h.postDocument)
}

type envelope struct {
	PostingDate    string          `json:"posting_date" validate:"required,datetime=2006-01-02"`
	DueDate        string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	CropCycleID    *uuid.UUID      `json:"crop_cycle_id"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=200"`
	Currency       string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	Document       json.RawMessage `json:"document" validate:"required"`
}

func (e envelope) header(tenantID uuid.UUID, actor string) documents.Header {
	h := documents.Header{
		TenantID:       tenantID,
		CropCycleID:    e.CropCycleID,
		IdempotencyKey: e.IdempotencyKey,
		Currency:       e.Currency,
		ActorID:        actor,
	}
	h.PostingDate, _ = time.Parse(time.DateOnly, e.PostingDate)
	if e.DueDate != "" {
		due, _ := time.Parse(time.DateOnly, e.DueDate)
		h.DueDate = &due
	}
	return h
}

func (h *Handler) listKinds(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"kinds": documents.Kinds()})
}

func (h *Handler) postDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	var in envelope
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			err = fmt.Errorf("%w: %s failed %s", httpx.ErrBadRequest, fieldErrs[0].Namespace(), fieldErrs[0].Tag())
		}
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.decoder.Decode(ledger.SourceType(chi.URLParam(r, "kind")), in.Document)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	group, err := h.service.Post(r.Context(), in.header(tenantID, shared.ActorFromContext(r.Context())), doc)
	if err != nil {
		if fault.KindOf(err) == "" || errors.Is(err, fault.ErrIntegrity) {
			h.logger.Error("document post failed",
				slog.String("kind", string(doc.SourceType())),
				slog.String("source_id", doc.SourceID()),
				slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if group.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, ledgerhttp.NewGroupView(group))
}
