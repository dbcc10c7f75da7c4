package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/inventory"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/ledger/periods"
	"github.com/agriops/agriledger/internal/observability"
	"github.com/agriops/agriledger/internal/shared"
)

// Repository abstracts transactional repository behaviour.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the reads and writes one posting transaction needs.
type TxRepository interface {
	periods.Store
	allocation.RuleSource
	inventory.Store

	LoadCatalog(ctx context.Context, tenantID uuid.UUID) (*accounts.Catalog, error)
	FindBySource(ctx context.Context, tenantID uuid.UUID, sourceType SourceType, sourceID, key string) (PostingGroup, error)
	GetGroup(ctx context.Context, tenantID, id uuid.UUID) (PostingGroup, error)
	// LockGroup reads the group header and holds a row lock until commit.
	LockGroup(ctx context.Context, tenantID, id uuid.UUID) (PostingGroup, error)
	ListGroups(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]PostingGroup, int, error)
	ListEntries(ctx context.Context, tenantID, groupID uuid.UUID) ([]LedgerEntry, error)
	ListAllocationRows(ctx context.Context, tenantID, groupID uuid.UUID) ([]AllocationRow, error)
	ListSettlements(ctx context.Context, tenantID, groupID uuid.UUID) ([]Settlement, error)

	// InsertGroup reports false when the source key or reversal target is taken.
	InsertGroup(ctx context.Context, g PostingGroup) (bool, error)
	InsertEntries(ctx context.Context, entries []LedgerEntry) error
	InsertAllocationRows(ctx context.Context, rows []AllocationRow) error
	InsertSettlements(ctx context.Context, settlements []Settlement) error

	// DocumentPosition returns the document's attributed amount for the party
	// and account plus everything already settled against it by ACTIVE settlements.
	DocumentPosition(ctx context.Context, tenantID, documentID, partyID, accountID uuid.UUID) (Position, error)
	CountActiveSettlements(ctx context.Context, tenantID, groupID uuid.UUID) (int, error)
	GetSettlementForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Settlement, error)
	MarkSettlementUnapplied(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
}

// Position summarises a document's standing for one party and account.
type Position struct {
	Face    decimal.Decimal
	Settled decimal.Decimal
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier is told about every committed change of a tenant's ledger.
type Notifier interface {
	Bump(ctx context.Context, tenantID uuid.UUID) error
}

// Config tunes the service.
type Config struct {
	Currency   string
	MaxRetries int
}

// Service coordinates posting, reversing and unapplying.
type Service struct {
	repo     Repository
	audit    AuditPort
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.LedgerMetrics
	cfg      Config
	now      func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo Repository, audit AuditPort, notifier Notifier, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Service{repo: repo, audit: audit, notifier: notifier, logger: logger, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches prometheus collectors.
func (s *Service) WithMetrics(m *observability.LedgerMetrics) {
	s.metrics = m
}

// Post writes a posting group for the request, or returns the group already
// committed for the same tenant, source and idempotency key.
func (s *Service) Post(ctx context.Context, req PostingRequest) (PostingGroup, error) {
	track := s.metrics.Track("post")
	if req.Currency == "" {
		req.Currency = s.cfg.Currency
	}
	req.PostingDate = periods.Day(req.PostingDate)
	if req.DueDate != nil {
		due := periods.Day(*req.DueDate)
		req.DueDate = &due
	}
	if err := req.Validate(); err != nil {
		return PostingGroup{}, track.End(err)
	}
	if err := checkBalanced(linesAsEntries(req.Lines)); err != nil {
		return PostingGroup{}, track.End(err)
	}

	var group PostingGroup
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindBySource(ctx, req.TenantID, req.SourceType, req.SourceID, req.IdempotencyKey)
		if err == nil {
			if err := loadDetail(ctx, tx, &existing); err != nil {
				return err
			}
			existing.Replayed = true
			group = existing
			return nil
		}
		if !errors.Is(err, ErrPostingNotFound) {
			return err
		}

		built, err := s.build(ctx, tx, req)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertGroup(ctx, built)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrConcurrentWrite
		}
		if err := tx.InsertEntries(ctx, built.Entries); err != nil {
			return err
		}
		if len(built.Rows) > 0 {
			if err := tx.InsertAllocationRows(ctx, built.Rows); err != nil {
				return err
			}
		}
		if len(built.Settlements) > 0 {
			if err := tx.InsertSettlements(ctx, built.Settlements); err != nil {
				return err
			}
		}
		if err := inventory.ApplyMovements(ctx, tx, built.TenantID, built.ID, built.Movements); err != nil {
			return err
		}
		group = built
		return nil
	})
	if err != nil {
		s.logger.Warn("ledger post rejected",
			slog.String("tenant_id", req.TenantID.String()),
			slog.String("source_type", string(req.SourceType)),
			slog.String("source_id", req.SourceID),
			slog.Any("error", err))
		return PostingGroup{}, track.End(err)
	}
	if group.Replayed {
		track.Replayed()
		s.logger.Debug("ledger post replayed",
			slog.String("tenant_id", group.TenantID.String()),
			slog.String("posting_group_id", group.ID.String()))
		return group, track.End(nil)
	}
	s.afterCommit(ctx, group.TenantID, req.ActorID, "ledger.post", "posting_group", group.ID.String(), map[string]any{
		"source_type":     string(group.SourceType),
		"source_id":       group.SourceID,
		"posting_date":    group.PostingDate.Format(time.DateOnly),
		"idempotency_key": group.IdempotencyKey,
		"entries":         len(group.Entries),
		"rows":            len(group.Rows),
		"settlements":     len(group.Settlements),
	})
	s.logger.Info("ledger posted",
		slog.String("tenant_id", group.TenantID.String()),
		slog.String("posting_group_id", group.ID.String()),
		slog.String("source_type", string(group.SourceType)),
		slog.String("source_id", group.SourceID))
	return group, track.End(nil)
}

// Reverse writes the exact mirror of an existing group dated reversalDate.
// Calling it again for the same date returns the existing reversal.
func (s *Service) Reverse(ctx context.Context, req ReverseRequest) (PostingGroup, error) {
	track := s.metrics.Track("reverse")
	if err := req.Validate(); err != nil {
		return PostingGroup{}, track.End(err)
	}
	req.ReversalDate = periods.Day(req.ReversalDate)

	var reversal PostingGroup
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.LockGroup(ctx, req.TenantID, req.PostingGroupID)
		if err != nil {
			return err
		}
		if original.SourceType == SourceReversal || original.ReversalOf != nil {
			return ErrReverseReversal
		}
		if original.ReversedBy != nil {
			existing, err := tx.GetGroup(ctx, req.TenantID, *original.ReversedBy)
			if err != nil {
				return err
			}
			if !periods.SameDay(existing.PostingDate, req.ReversalDate) {
				return fmt.Errorf("%w: on %s", ErrAlreadyReversed, existing.PostingDate.Format(time.DateOnly))
			}
			if err := loadDetail(ctx, tx, &existing); err != nil {
				return err
			}
			existing.Replayed = true
			reversal = existing
			return nil
		}
		active, err := tx.CountActiveSettlements(ctx, req.TenantID, original.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: %d to unapply", ErrActiveSettlements, active)
		}

		lock := periods.NewLock(tx)
		period, err := lock.Resolve(ctx, req.TenantID, req.ReversalDate)
		if err != nil {
			return err
		}
		if period.Status == periods.StatusClosed && !periods.SameDay(req.ReversalDate, original.PostingDate) {
			return fmt.Errorf("%w: %s", periods.ErrPeriodClosed, req.ReversalDate.Format(time.DateOnly))
		}
		if err := lock.EnsureCycle(ctx, req.TenantID, original.CropCycleID, req.ReversalDate); err != nil {
			return err
		}

		if err := loadDetail(ctx, tx, &original); err != nil {
			return err
		}
		built := mirror(original, req, s.now())
		if err := checkBalanced(built.Entries); err != nil {
			return err
		}
		inserted, err := tx.InsertGroup(ctx, built)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrConcurrentWrite
		}
		if err := tx.InsertEntries(ctx, built.Entries); err != nil {
			return err
		}
		if len(built.Rows) > 0 {
			if err := tx.InsertAllocationRows(ctx, built.Rows); err != nil {
				return err
			}
		}
		if err := inventory.ApplyMovements(ctx, tx, built.TenantID, built.ID, built.Movements); err != nil {
			return err
		}
		reversal = built
		return nil
	})
	if err != nil {
		s.logger.Warn("ledger reversal rejected",
			slog.String("tenant_id", req.TenantID.String()),
			slog.String("posting_group_id", req.PostingGroupID.String()),
			slog.Any("error", err))
		return PostingGroup{}, track.End(err)
	}
	if reversal.Replayed {
		track.Replayed()
		return reversal, track.End(nil)
	}
	s.afterCommit(ctx, reversal.TenantID, req.ActorID, "ledger.reverse", "posting_group", req.PostingGroupID.String(), map[string]any{
		"reversal_posting_group_id": reversal.ID.String(),
		"reversal_date":             reversal.PostingDate.Format(time.DateOnly),
		"reason":                    req.Reason,
	})
	s.logger.Info("ledger reversed",
		slog.String("tenant_id", reversal.TenantID.String()),
		slog.String("posting_group_id", req.PostingGroupID.String()),
		slog.String("reversal_posting_group_id", reversal.ID.String()))
	return reversal, track.End(nil)
}

// Unapply releases an ACTIVE settlement so the instrument and document
// return to their unsettled state. Unapplying twice is a no-op.
func (s *Service) Unapply(ctx context.Context, tenantID, settlementID uuid.UUID, actorID string) (Settlement, error) {
	track := s.metrics.Track("unapply")
	var out Settlement
	changed := false
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := tx.GetSettlementForUpdate(ctx, tenantID, settlementID)
		if err != nil {
			return err
		}
		if st.Status == SettlementUnapplied {
			out = st
			return nil
		}
		at := s.now().UTC()
		if err := tx.MarkSettlementUnapplied(ctx, tenantID, settlementID, at); err != nil {
			return err
		}
		st.Status = SettlementUnapplied
		st.UnappliedAt = &at
		out = st
		changed = true
		return nil
	})
	if err != nil {
		return Settlement{}, track.End(err)
	}
	if !changed {
		track.Replayed()
		return out, track.End(nil)
	}
	s.afterCommit(ctx, tenantID, actorID, "ledger.unapply", "settlement", settlementID.String(), map[string]any{
		"instrument_posting_group_id": out.InstrumentGroupID.String(),
		"document_posting_group_id":   out.DocumentGroupID.String(),
		"amount":                      out.Amount.StringFixed(2),
	})
	return out, track.End(nil)
}

// Get returns one group with its entries, rows, settlements and movements.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (PostingGroup, error) {
	var g PostingGroup
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if g, err = tx.GetGroup(ctx, tenantID, id); err != nil {
			return err
		}
		return loadDetail(ctx, tx, &g)
	})
	return g, err
}

// List returns group headers with pagination metadata.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]PostingGroup, shared.Pagination, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	var groups []PostingGroup
	var total int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		groups, total, err = tx.ListGroups(ctx, tenantID, filter)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return groups, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) inTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if !errors.Is(err, ErrConcurrentWrite) {
			return err
		}
		s.logger.Debug("ledger transaction retry", slog.Int("attempt", attempt+1))
	}
	return err
}

func (s *Service) afterCommit(ctx context.Context, tenantID uuid.UUID, actorID, action, entity, entityID string, meta map[string]any) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   action,
			Entity:   entity,
			EntityID: entityID,
			Meta:     meta,
			At:       s.now(),
		}); err != nil {
			s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Bump(ctx, tenantID); err != nil {
			s.logger.Warn("report cache bump", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		}
	}
}

func loadDetail(ctx context.Context, tx TxRepository, g *PostingGroup) error {
	var err error
	if g.Entries, err = tx.ListEntries(ctx, g.TenantID, g.ID); err != nil {
		return err
	}
	if g.Rows, err = tx.ListAllocationRows(ctx, g.TenantID, g.ID); err != nil {
		return err
	}
	if g.Settlements, err = tx.ListSettlements(ctx, g.TenantID, g.ID); err != nil {
		return err
	}
	if g.Movements, err = tx.ListMovements(ctx, g.TenantID, g.ID); err != nil {
		return err
	}
	return nil
}
