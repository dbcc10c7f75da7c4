// Package documents turns business documents into posting requests. Each
// variant computes its own lines and allocation instructions from the tenant
// catalog; the ledger engine stays generic over the Document capability.
package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/inventory"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/ledger/fault"
)

// Document is the capability every variant implements.
type Document interface {
	SourceType() ledger.SourceType
	SourceID() string
	ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error)
	ComputeAllocations(cat *accounts.Catalog) ([]allocation.Instruction, error)
}

// InventoryMover is implemented by documents that move stock.
type InventoryMover interface {
	Movements() []inventory.Movement
}

// Settler is implemented by instruments that settle open documents.
type Settler interface {
	Settlements(ctx context.Context, cat *accounts.Catalog, h Header, open OpenItemSource) ([]ledger.SettlementInput, error)
}

// Keyed is implemented by documents that post more than once under one
// source id, such as monthly accruals.
type Keyed interface {
	IdempotencyKey() string
}

// OpenItemSource lists a party's unsettled documents on a control account.
type OpenItemSource interface {
	OpenItems(ctx context.Context, tenantID, partyID, accountID uuid.UUID, asOf time.Time) ([]allocation.OpenItem, error)
}

// Header carries the posting metadata shared by every document.
type Header struct {
	TenantID       uuid.UUID
	PostingDate    time.Time
	DueDate        *time.Time
	CropCycleID    *uuid.UUID
	IdempotencyKey string
	Currency       string
	ActorID        string
}

// ErrInvalidDocument indicates a document that cannot produce a posting.
var ErrInvalidDocument = fault.New(fault.KindValidation, "documents: invalid document")

// Application settles part of an instrument against one document.
type Application struct {
	DocumentID uuid.UUID       `json:"document_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func line(cat *accounts.Catalog, role accounts.Role, debit, credit decimal.Decimal, memo string) (ledger.Line, error) {
	acct, err := cat.Resolve(role)
	if err != nil {
		return ledger.Line{}, err
	}
	return ledger.Line{AccountID: acct.ID, Debit: debit, Credit: credit, Memo: memo}, nil
}

// pair builds a two line debit/credit posting for amount.
func pair(cat *accounts.Catalog, debitRole, creditRole accounts.Role, amount decimal.Decimal, memo string) ([]ledger.Line, error) {
	dr, err := line(cat, debitRole, amount, decimal.Zero, memo)
	if err != nil {
		return nil, err
	}
	cr, err := line(cat, creditRole, decimal.Zero, amount, memo)
	if err != nil {
		return nil, err
	}
	return []ledger.Line{dr, cr}, nil
}

func fullParty(role accounts.Role, party uuid.UUID, project *uuid.UUID) allocation.Instruction {
	p := party
	return allocation.Instruction{Mode: allocation.ModeFullParty, Role: role, PartyID: &p, ProjectID: project}
}

// settle resolves explicit applications, or plans FIFO applications when
// auto is set, for an instrument paying amount to party on role's account.
func settle(ctx context.Context, cat *accounts.Catalog, h Header, open OpenItemSource, role accounts.Role, party uuid.UUID, amount decimal.Decimal, explicit []Application, auto bool) ([]ledger.SettlementInput, error) {
	acct, err := cat.Resolve(role)
	if err != nil {
		return nil, err
	}
	var out []ledger.SettlementInput
	if len(explicit) > 0 {
		for _, a := range explicit {
			out = append(out, ledger.SettlementInput{DocumentGroupID: a.DocumentID, PartyID: party, AccountID: acct.ID, Amount: money(a.Amount)})
		}
		return out, nil
	}
	if !auto || open == nil {
		return nil, nil
	}
	items, err := open.OpenItems(ctx, h.TenantID, party, acct.ID, h.PostingDate)
	if err != nil {
		return nil, err
	}
	plan, _ := allocation.PlanFIFO(amount, items)
	for _, p := range plan {
		out = append(out, ledger.SettlementInput{DocumentGroupID: p.DocumentID, PartyID: party, AccountID: acct.ID, Amount: p.Amount})
	}
	return out, nil
}
