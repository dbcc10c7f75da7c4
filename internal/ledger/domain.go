// Package ledger is the append-only posting and reversal engine. A posting
// group and its entries, allocation rows and secondary effects are written in
// one serializable transaction exactly once per source key; corrections are
// expressed only as reversal groups.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/inventory"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/ledger/fault"
)

// SourceType tags the document kind that produced a posting group.
type SourceType string

const (
	SourceGoodsReceipt    SourceType = "GRN"
	SourceSale            SourceType = "SALE"
	SourcePayment         SourceType = "PAYMENT"
	SourceCreditNote      SourceType = "CREDIT_NOTE"
	SourceCropSettlement  SourceType = "SETTLEMENT"
	SourceHarvest         SourceType = "HARVEST"
	SourceMachineryCharge SourceType = "MACHINERY_CHARGE"
	SourceLeaseAccrual    SourceType = "LEASE_ACCRUAL"
	SourceJournal         SourceType = "JOURNAL"
	SourceReversal        SourceType = "REVERSAL"
)

// Valid reports whether s is a known tag.
func (s SourceType) Valid() bool {
	switch s {
	case SourceGoodsReceipt, SourceSale, SourcePayment, SourceCreditNote, SourceCropSettlement,
		SourceHarvest, SourceMachineryCharge, SourceLeaseAccrual, SourceJournal, SourceReversal:
		return true
	}
	return false
}

// Instrument reports whether groups of this type settle other documents.
func (s SourceType) Instrument() bool {
	return s == SourcePayment || s == SourceCreditNote
}

// Document reports whether groups of this type open subledger items.
func (s SourceType) Document() bool {
	return s.Valid() && !s.Instrument() && s != SourceReversal
}

// PostingGroup is one balanced accounting event.
type PostingGroup struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	CropCycleID      *uuid.UUID
	SourceType       SourceType
	SourceID         string
	PostingDate      time.Time
	DueDate          *time.Time
	IdempotencyKey   string
	Currency         string
	ReversalOf       *uuid.UUID
	CorrectionReason string
	CreatedAt        time.Time
	// ReversedBy is derived on read from the reversal back-reference.
	ReversedBy *uuid.UUID

	Entries     []LedgerEntry
	Rows        []AllocationRow
	Settlements []Settlement
	Movements   []inventory.Movement

	// Replayed is set when the call returned a previously committed group.
	Replayed bool
}

// Active reports whether no other group reverses g.
func (g PostingGroup) Active() bool {
	return g.ReversedBy == nil
}

// LedgerEntry is a single debit or credit line. Exactly one side is non-zero.
type LedgerEntry struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	PostingGroupID uuid.UUID
	AccountID      uuid.UUID
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	Currency       string
	Memo           string
}

// AllocationRow attributes part of a pool account's amount to a party or
// project. Amount is signed in the account's natural direction.
type AllocationRow struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	PostingGroupID uuid.UUID
	AccountID      uuid.UUID
	PartyID        *uuid.UUID
	ProjectID      *uuid.UUID
	Type           allocation.Mode
	Amount         decimal.Decimal
	RuleSnapshot   json.RawMessage
}

// SettlementStatus enumerates settlement allocation states.
type SettlementStatus string

const (
	SettlementActive    SettlementStatus = "ACTIVE"
	SettlementUnapplied SettlementStatus = "UNAPPLIED"
)

// Settlement applies part of an instrument (payment, credit note) to a document.
type Settlement struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	InstrumentGroupID uuid.UUID
	DocumentGroupID   uuid.UUID
	PartyID           uuid.UUID
	AccountID         uuid.UUID
	Amount            decimal.Decimal
	AllocationDate    time.Time
	Status            SettlementStatus
	UnappliedAt       *time.Time
}

// Line is a caller supplied debit or credit.
type Line struct {
	AccountID uuid.UUID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// SettlementInput asks the engine to apply part of the posted instrument to
// an open document of the same party and control account.
type SettlementInput struct {
	DocumentGroupID uuid.UUID
	PartyID         uuid.UUID
	AccountID       uuid.UUID
	Amount          decimal.Decimal
}

// PostingRequest groups everything needed to post one source document.
type PostingRequest struct {
	TenantID       uuid.UUID
	SourceType     SourceType
	SourceID       string
	PostingDate    time.Time
	DueDate        *time.Time
	CropCycleID    *uuid.UUID
	IdempotencyKey string
	Currency       string
	ActorID        string
	Lines          []Line
	Allocations    []allocation.Instruction
	Settlements    []SettlementInput
	Movements      []inventory.Movement
}

// ReverseRequest wraps parameters for a reversal.
type ReverseRequest struct {
	TenantID       uuid.UUID
	PostingGroupID uuid.UUID
	ReversalDate   time.Time
	Reason         string
	ActorID        string
}

// ListFilter narrows posting group listings.
type ListFilter struct {
	SourceType SourceType
	From       *time.Time
	To         *time.Time
	ActiveOnly bool
	Page       int
	PerPage    int
}

const maxIdempotencyKey = 200

var (
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = fault.New(fault.KindValidation, "ledger: posting requires at least two lines")
	// ErrInvalidLine indicates a negative, double-sided, empty or over-precise line.
	ErrInvalidLine = fault.New(fault.KindValidation, "ledger: invalid posting line")
	// ErrInvalidRequest indicates missing or malformed header fields.
	ErrInvalidRequest = fault.New(fault.KindValidation, "ledger: invalid posting request")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = fault.New(fault.KindIntegrity, "ledger: debits and credits must balance")
	// ErrUnattributedControl indicates a control account amount with no allocation instruction.
	ErrUnattributedControl = fault.New(fault.KindValidation, "ledger: control account amount has no party attribution")
	// ErrAllocationDrift indicates allocation rows that do not sum to their pool.
	ErrAllocationDrift = fault.New(fault.KindIntegrity, "ledger: allocation rows do not sum to pool amount")
	// ErrPostingNotFound indicates missing posting group.
	ErrPostingNotFound = fault.New(fault.KindNotFound, "ledger: posting group not found")
	// ErrReverseReversal indicates an attempt to reverse a reversal.
	ErrReverseReversal = fault.New(fault.KindStateConflict, "ledger: reversal groups cannot be reversed")
	// ErrAlreadyReversed indicates the group was reversed on another date.
	ErrAlreadyReversed = fault.New(fault.KindStateConflict, "ledger: posting group already reversed")
	// ErrActiveSettlements indicates settlements that must be unapplied first.
	ErrActiveSettlements = fault.New(fault.KindStateConflict, "ledger: active settlements reference posting group")
	// ErrReasonRequired indicates a reversal without a reason.
	ErrReasonRequired = fault.New(fault.KindValidation, "ledger: reversal reason required")
	// ErrNotInstrument indicates settlements requested on a non-instrument source type.
	ErrNotInstrument = fault.New(fault.KindValidation, "ledger: only payments and credit notes settle documents")
	// ErrInvalidDocument indicates a settlement target that cannot carry settlements.
	ErrInvalidDocument = fault.New(fault.KindValidation, "ledger: settlement target is not an open document")
	// ErrExceedsInstrument indicates settlements larger than the instrument itself.
	ErrExceedsInstrument = fault.New(fault.KindValidation, "ledger: settlements exceed instrument amount")
	// ErrExceedsOutstanding indicates a settlement above the document's open balance.
	ErrExceedsOutstanding = fault.New(fault.KindStateConflict, "ledger: settlement exceeds outstanding balance")
	// ErrDocumentReversed indicates a settlement against a reversed document.
	ErrDocumentReversed = fault.New(fault.KindStateConflict, "ledger: document has been reversed")
	// ErrSettlementNotFound indicates a missing settlement allocation.
	ErrSettlementNotFound = fault.New(fault.KindNotFound, "ledger: settlement not found")
	// ErrConcurrentWrite indicates the transaction lost a race and may be retried.
	ErrConcurrentWrite = fault.New(fault.KindStateConflict, "ledger: concurrent write detected, retry")
)

// Validate checks the request shape. It never touches storage.
func (r PostingRequest) Validate() error {
	if r.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant required", ErrInvalidRequest)
	}
	if !r.SourceType.Valid() || r.SourceType == SourceReversal {
		return fmt.Errorf("%w: source type %q", ErrInvalidRequest, r.SourceType)
	}
	if r.SourceID == "" {
		return fmt.Errorf("%w: source id required", ErrInvalidRequest)
	}
	if r.PostingDate.IsZero() {
		return fmt.Errorf("%w: posting date required", ErrInvalidRequest)
	}
	if r.DueDate != nil && r.DueDate.Before(r.PostingDate) {
		return fmt.Errorf("%w: due date before posting date", ErrInvalidRequest)
	}
	if len(r.IdempotencyKey) > maxIdempotencyKey {
		return fmt.Errorf("%w: idempotency key too long", ErrInvalidRequest)
	}
	if len(r.Lines) < 2 {
		return ErrTooFewLines
	}
	for i, l := range r.Lines {
		if err := l.validate(); err != nil {
			return fmt.Errorf("%w: line %d: %s", ErrInvalidLine, i+1, err)
		}
	}
	for i, in := range r.Allocations {
		if !in.Mode.Valid() {
			return fmt.Errorf("%w: allocation %d mode %q", ErrInvalidRequest, i+1, in.Mode)
		}
		if in.AccountID == uuid.Nil && in.Role == "" {
			return fmt.Errorf("%w: allocation %d needs an account or role", ErrInvalidRequest, i+1)
		}
	}
	for i, s := range r.Settlements {
		if s.DocumentGroupID == uuid.Nil || s.PartyID == uuid.Nil || s.AccountID == uuid.Nil {
			return fmt.Errorf("%w: settlement %d needs document, party and account", ErrInvalidRequest, i+1)
		}
		if !s.Amount.IsPositive() || !s.Amount.Equal(s.Amount.Round(2)) {
			return fmt.Errorf("%w: settlement %d amount %s", ErrInvalidRequest, i+1, s.Amount)
		}
	}
	for _, m := range r.Movements {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (l Line) validate() error {
	if l.AccountID == uuid.Nil {
		return errors.New("account required")
	}
	if l.Debit.IsNegative() || l.Credit.IsNegative() {
		return errors.New("amounts must not be negative")
	}
	if l.Debit.IsZero() == l.Credit.IsZero() {
		return errors.New("exactly one of debit or credit must be set")
	}
	if !l.Debit.Equal(l.Debit.Round(2)) || !l.Credit.Equal(l.Credit.Round(2)) {
		return errors.New("amounts limited to 2 decimals")
	}
	return nil
}

// Validate checks the reversal request shape.
func (r ReverseRequest) Validate() error {
	if r.TenantID == uuid.Nil || r.PostingGroupID == uuid.Nil {
		return fmt.Errorf("%w: tenant and posting group required", ErrInvalidRequest)
	}
	if r.ReversalDate.IsZero() {
		return fmt.Errorf("%w: reversal date required", ErrInvalidRequest)
	}
	if r.Reason == "" {
		return ErrReasonRequired
	}
	return nil
}
