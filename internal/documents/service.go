package documents

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
)

// CatalogLoader loads the tenant's chart of accounts.
type CatalogLoader interface {
	LoadCatalog(ctx context.Context, tenantID uuid.UUID) (*accounts.Catalog, error)
}

// Poster commits a posting request.
type Poster interface {
	Post(ctx context.Context, req ledger.PostingRequest) (ledger.PostingGroup, error)
}

// Service computes posting requests from documents and hands them to the ledger.
type Service struct {
	catalogs CatalogLoader
	poster   Poster
	open     OpenItemSource
	logger   *slog.Logger
}

// NewService wires the document service. open may be nil, in which case
// auto-applied instruments post without settlements.
func NewService(catalogs CatalogLoader, poster Poster, open OpenItemSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalogs: catalogs, poster: poster, open: open, logger: logger}
}

// Build computes the posting request for doc without committing it.
func (s *Service) Build(ctx context.Context, h Header, doc Document) (ledger.PostingRequest, error) {
	cat, err := s.catalogs.LoadCatalog(ctx, h.TenantID)
	if err != nil {
		return ledger.PostingRequest{}, err
	}
	lines, err := doc.ComputeLines(cat)
	if err != nil {
		return ledger.PostingRequest{}, err
	}
	instructions, err := doc.ComputeAllocations(cat)
	if err != nil {
		return ledger.PostingRequest{}, err
	}
	req := ledger.PostingRequest{
		TenantID:       h.TenantID,
		SourceType:     doc.SourceType(),
		SourceID:       doc.SourceID(),
		PostingDate:    h.PostingDate,
		DueDate:        h.DueDate,
		CropCycleID:    h.CropCycleID,
		IdempotencyKey: h.IdempotencyKey,
		Currency:       h.Currency,
		ActorID:        h.ActorID,
		Lines:          lines,
		Allocations:    instructions,
	}
	if k, ok := doc.(Keyed); ok && req.IdempotencyKey == "" {
		req.IdempotencyKey = k.IdempotencyKey()
	}
	if m, ok := doc.(InventoryMover); ok {
		req.Movements = m.Movements()
	}
	if st, ok := doc.(Settler); ok {
		settlements, err := st.Settlements(ctx, cat, h, s.open)
		if err != nil {
			return ledger.PostingRequest{}, err
		}
		req.Settlements = settlements
	}
	return req, nil
}

// Post builds and commits doc.
func (s *Service) Post(ctx context.Context, h Header, doc Document) (ledger.PostingGroup, error) {
	req, err := s.Build(ctx, h, doc)
	if err != nil {
		s.logger.Warn("document rejected",
			slog.String("tenant_id", h.TenantID.String()),
			slog.String("source_type", string(doc.SourceType())),
			slog.String("source_id", doc.SourceID()),
			slog.Any("error", err))
		return ledger.PostingGroup{}, err
	}
	return s.poster.Post(ctx, req)
}
