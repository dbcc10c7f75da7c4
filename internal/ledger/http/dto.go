package ledgerhttp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/inventory"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/platform/httpx"
)

type lineInput struct {
	AccountID uuid.UUID       `json:"account_id" validate:"required"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo" validate:"max=500"`
}

type allocationInput struct {
	Mode                 allocation.Mode    `json:"mode" validate:"required"`
	AccountID            uuid.UUID          `json:"account_id"`
	Role                 accounts.Role      `json:"role"`
	PartyID              *uuid.UUID         `json:"party_id"`
	ProjectID            *uuid.UUID         `json:"project_id"`
	RuleID               *uuid.UUID         `json:"rule_id"`
	Shares               []allocation.Share `json:"shares"`
	ApprovedSnapshotHash string             `json:"approved_snapshot_hash" validate:"omitempty,len=64,hexadecimal"`
}

type settlementInput struct {
	DocumentID uuid.UUID       `json:"document_id" validate:"required"`
	PartyID    uuid.UUID       `json:"party_id" validate:"required"`
	AccountID  uuid.UUID       `json:"account_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
}

type postingInput struct {
	SourceType     ledger.SourceType    `json:"source_type" validate:"required"`
	SourceID       string               `json:"source_id" validate:"required,max=200"`
	PostingDate    string               `json:"posting_date" validate:"required,datetime=2006-01-02"`
	DueDate        string               `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	CropCycleID    *uuid.UUID           `json:"crop_cycle_id"`
	IdempotencyKey string               `json:"idempotency_key" validate:"max=200"`
	Currency       string               `json:"currency" validate:"omitempty,len=3,uppercase"`
	Lines          []lineInput          `json:"lines" validate:"required,min=2,dive"`
	Allocations    []allocationInput    `json:"allocations" validate:"dive"`
	Settlements    []settlementInput    `json:"settlements" validate:"dive"`
	Movements      []inventory.Movement `json:"movements"`
}

func (in postingInput) request(tenantID uuid.UUID, actor string) ledger.PostingRequest {
	req := ledger.PostingRequest{
		TenantID:       tenantID,
		SourceType:     in.SourceType,
		SourceID:       in.SourceID,
		CropCycleID:    in.CropCycleID,
		IdempotencyKey: in.IdempotencyKey,
		Currency:       in.Currency,
		ActorID:        actor,
		Movements:      in.Movements,
	}
	// Dates were checked by the validator.
	req.PostingDate, _ = time.Parse(time.DateOnly, in.PostingDate)
	if in.DueDate != "" {
		due, _ := time.Parse(time.DateOnly, in.DueDate)
		req.DueDate = &due
	}
	for _, l := range in.Lines {
		req.Lines = append(req.Lines, ledger.Line{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo})
	}
	for _, a := range in.Allocations {
		req.Allocations = append(req.Allocations, allocation.Instruction{
			Mode:                 a.Mode,
			AccountID:            a.AccountID,
			Role:                 a.Role,
			PartyID:              a.PartyID,
			ProjectID:            a.ProjectID,
			RuleID:               a.RuleID,
			Shares:               a.Shares,
			ApprovedSnapshotHash: a.ApprovedSnapshotHash,
		})
	}
	for _, s := range in.Settlements {
		req.Settlements = append(req.Settlements, ledger.SettlementInput{
			DocumentGroupID: s.DocumentID,
			PartyID:         s.PartyID,
			AccountID:       s.AccountID,
			Amount:          s.Amount,
		})
	}
	return req
}

type reverseInput struct {
	ReversalDate string `json:"reversal_date" validate:"required,datetime=2006-01-02"`
	Reason       string `json:"reason" validate:"required,max=500"`
}

// EntryView is the JSON form of a ledger entry.
type EntryView struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Debit     string    `json:"debit"`
	Credit    string    `json:"credit"`
	Memo      string    `json:"memo,omitempty"`
}

// RowView is the JSON form of an allocation row.
type RowView struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"account_id"`
	PartyID      *uuid.UUID      `json:"party_id,omitempty"`
	ProjectID    *uuid.UUID      `json:"project_id,omitempty"`
	Type         allocation.Mode `json:"allocation_type"`
	Amount       string          `json:"amount"`
	RuleSnapshot json.RawMessage `json:"rule_snapshot,omitempty"`
}

// SettlementView is the JSON form of a settlement allocation.
type SettlementView struct {
	ID                uuid.UUID               `json:"id"`
	InstrumentGroupID uuid.UUID               `json:"instrument_posting_group_id"`
	DocumentGroupID   uuid.UUID               `json:"document_posting_group_id"`
	PartyID           uuid.UUID               `json:"party_id"`
	AccountID         uuid.UUID               `json:"account_id"`
	Amount            string                  `json:"amount"`
	AllocationDate    string                  `json:"allocation_date"`
	Status            ledger.SettlementStatus `json:"status"`
	UnappliedAt       *time.Time              `json:"unapplied_at,omitempty"`
}

// GroupView is the JSON form of a posting group.
type GroupView struct {
	ID               uuid.UUID            `json:"id"`
	SourceType       ledger.SourceType    `json:"source_type"`
	SourceID         string               `json:"source_id"`
	PostingDate      string               `json:"posting_date"`
	DueDate          string               `json:"due_date,omitempty"`
	CropCycleID      *uuid.UUID           `json:"crop_cycle_id,omitempty"`
	IdempotencyKey   string               `json:"idempotency_key,omitempty"`
	Currency         string               `json:"currency"`
	ReversalOf       *uuid.UUID           `json:"reversal_of_posting_group_id,omitempty"`
	ReversedBy       *uuid.UUID           `json:"reversed_by_posting_group_id,omitempty"`
	CorrectionReason string               `json:"correction_reason,omitempty"`
	Active           bool                 `json:"active"`
	Replayed         bool                 `json:"replayed,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	Entries          []EntryView          `json:"entries,omitempty"`
	Rows             []RowView            `json:"allocation_rows,omitempty"`
	Settlements      []SettlementView     `json:"settlements,omitempty"`
	Movements        []inventory.Movement `json:"movements,omitempty"`
}

// NewGroupView renders g for JSON responses.
func NewGroupView(g ledger.PostingGroup) GroupView {
	v := GroupView{
		ID:               g.ID,
		SourceType:       g.SourceType,
		SourceID:         g.SourceID,
		PostingDate:      g.PostingDate.Format(time.DateOnly),
		CropCycleID:      g.CropCycleID,
		IdempotencyKey:   g.IdempotencyKey,
		Currency:         g.Currency,
		ReversalOf:       g.ReversalOf,
		ReversedBy:       g.ReversedBy,
		CorrectionReason: g.CorrectionReason,
		Active:           g.Active(),
		Replayed:         g.Replayed,
		CreatedAt:        g.CreatedAt,
		Movements:        g.Movements,
	}
	if g.DueDate != nil {
		v.DueDate = g.DueDate.Format(time.DateOnly)
	}
	for _, e := range g.Entries {
		v.Entries = append(v.Entries, EntryView{ID: e.ID, AccountID: e.AccountID, Debit: httpx.Money(e.Debit), Credit: httpx.Money(e.Credit), Memo: e.Memo})
	}
	for _, r := range g.Rows {
		v.Rows = append(v.Rows, RowView{
			ID:           r.ID,
			AccountID:    r.AccountID,
			PartyID:      r.PartyID,
			ProjectID:    r.ProjectID,
			Type:         r.Type,
			Amount:       httpx.Money(r.Amount),
			RuleSnapshot: r.RuleSnapshot,
		})
	}
	for _, s := range g.Settlements {
		v.Settlements = append(v.Settlements, NewSettlementView(s))
	}
	return v
}

// NewSettlementView renders s for JSON responses.
func NewSettlementView(s ledger.Settlement) SettlementView {
	return SettlementView{
		ID:                s.ID,
		InstrumentGroupID: s.InstrumentGroupID,
		DocumentGroupID:   s.DocumentGroupID,
		PartyID:           s.PartyID,
		AccountID:         s.AccountID,
		Amount:            httpx.Money(s.Amount),
		AllocationDate:    s.AllocationDate.Format(time.DateOnly),
		Status:            s.Status,
		UnappliedAt:       s.UnappliedAt,
	}
}
