package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/inventory"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
)

// GoodsReceipt records purchased stock owed to a supplier.
type GoodsReceipt struct {
	Number     string          `json:"number" validate:"required"`
	SupplierID uuid.UUID       `json:"supplier_id" validate:"required"`
	ItemID     uuid.UUID       `json:"item_id" validate:"required"`
	ProjectID  *uuid.UUID      `json:"project_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

func (g GoodsReceipt) SourceType() ledger.SourceType { return ledger.SourceGoodsReceipt }
func (g GoodsReceipt) SourceID() string              { return g.Number }

func (g GoodsReceipt) value() decimal.Decimal {
	return money(g.Quantity.Mul(g.UnitCost))
}

func (g GoodsReceipt) ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error) {
	if !g.Quantity.IsPositive() || !g.UnitCost.IsPositive() {
		return nil, fmt.Errorf("%w: receipt %s needs positive quantity and unit cost", ErrInvalidDocument, g.Number)
	}
	return pair(cat, accounts.RoleInventory, accounts.RoleAP, g.value(), "goods receipt "+g.Number)
}

func (g GoodsReceipt) ComputeAllocations(*accounts.Catalog) ([]allocation.Instruction, error) {
	return []allocation.Instruction{fullParty(accounts.RoleAP, g.SupplierID, g.ProjectID)}, nil
}

func (g GoodsReceipt) Movements() []inventory.Movement {
	return []inventory.Movement{{ItemID: g.ItemID, Quantity: g.Quantity, Value: g.value()}}
}

// Sale invoices a customer and relieves stock at the supplied unit cost.
type Sale struct {
	Number     string          `json:"number" validate:"required"`
	CustomerID uuid.UUID       `json:"customer_id" validate:"required"`
	ItemID     uuid.UUID       `json:"item_id" validate:"required"`
	ProjectID  *uuid.UUID      `json:"project_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

func (s Sale) SourceType() ledger.SourceType { return ledger.SourceSale }
func (s Sale) SourceID() string              { return s.Number }

func (s Sale) cost() decimal.Decimal {
	return money(s.Quantity.Mul(s.UnitCost))
}

func (s Sale) ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error) {
	if !s.Quantity.IsPositive() || !s.UnitPrice.IsPositive() || s.UnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: sale %s needs positive quantity and price", ErrInvalidDocument, s.Number)
	}
	lines, err := pair(cat, accounts.RoleAR, accounts.RoleSalesRevenue, money(s.Quantity.Mul(s.UnitPrice)), "sale "+s.Number)
	if err != nil {
		return nil, err
	}
	if cost := s.cost(); cost.IsPositive() {
		cogs, err := pair(cat, accounts.RoleCOGS, accounts.RoleInventory, cost, "cost of sale "+s.Number)
		if err != nil {
			return nil, err
		}
		lines = append(lines, cogs...)
	}
	return lines, nil
}

func (s Sale) ComputeAllocations(*accounts.Catalog) ([]allocation.Instruction, error) {
	return []allocation.Instruction{fullParty(accounts.RoleAR, s.CustomerID, s.ProjectID)}, nil
}

func (s Sale) Movements() []inventory.Movement {
	return []inventory.Movement{{ItemID: s.ItemID, Quantity: s.Quantity.Neg(), Value: s.cost().Neg()}}
}

// Direction distinguishes money paid out from money received.
type Direction string

const (
	DirectionPaid     Direction = "PAID"
	DirectionReceived Direction = "RECEIVED"
)

// Payment moves cash against a party's control account and optionally
// settles that party's open documents.
type Payment struct {
	Number    string          `json:"number" validate:"required"`
	Direction Direction       `json:"direction" validate:"required,oneof=PAID RECEIVED"`
	PartyID   uuid.UUID       `json:"party_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	// Role overrides the control account, e.g. HARI or LANDLORD for payouts.
	Role         accounts.Role `json:"role,omitempty" validate:"omitempty,oneof=AP AR HARI LANDLORD"`
	Applications []Application `json:"applications,omitempty" validate:"dive"`
	AutoApply    bool          `json:"auto_apply"`
}

func (p Payment) SourceType() ledger.SourceType { return ledger.SourcePayment }
func (p Payment) SourceID() string              { return p.Number }

func (p Payment) role() accounts.Role {
	if p.Role != "" {
		return p.Role
	}
	if p.Direction == DirectionReceived {
		return accounts.RoleAR
	}
	return accounts.RoleAP
}

func (p Payment) ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error) {
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment %s amount must be positive", ErrInvalidDocument, p.Number)
	}
	switch p.Direction {
	case DirectionPaid:
		return pair(cat, p.role(), accounts.RoleCash, money(p.Amount), "payment "+p.Number)
	case DirectionReceived:
		return pair(cat, accounts.RoleCash, p.role(), money(p.Amount), "receipt "+p.Number)
	}
	return nil, fmt.Errorf("%w: payment direction %q", ErrInvalidDocument, p.Direction)
}

func (p Payment) ComputeAllocations(*accounts.Catalog) ([]allocation.Instruction, error) {
	return []allocation.Instruction{fullParty(p.role(), p.PartyID, nil)}, nil
}

func (p Payment) Settlements(ctx context.Context, cat *accounts.Catalog, h Header, open OpenItemSource) ([]ledger.SettlementInput, error) {
	return settle(ctx, cat, h, open, p.role(), p.PartyID, money(p.Amount), p.Applications, p.AutoApply)
}

// CreditNote reduces what a customer owes.
type CreditNote struct {
	Number       string          `json:"number" validate:"required"`
	CustomerID   uuid.UUID       `json:"customer_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Applications []Application   `json:"applications,omitempty" validate:"dive"`
	AutoApply    bool            `json:"auto_apply"`
}

func (c CreditNote) SourceType() ledger.SourceType { return ledger.SourceCreditNote }
func (c CreditNote) SourceID() string              { return c.Number }

func (c CreditNote) ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error) {
	if !c.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: credit note %s amount must be positive", ErrInvalidDocument, c.Number)
	}
	return pair(cat, accounts.RoleSalesReturns, accounts.RoleAR, money(c.Amount), "credit note "+c.Number)
}

func (c CreditNote) ComputeAllocations(*accounts.Catalog) ([]allocation.Instruction, error) {
	return []allocation.Instruction{fullParty(accounts.RoleAR, c.CustomerID, nil)}, nil
}

func (c CreditNote) Settlements(ctx context.Context, cat *accounts.Catalog, h Header, open OpenItemSource) ([]ledger.SettlementInput, error) {
	return settle(ctx, cat, h, open, accounts.RoleAR, c.CustomerID, money(c.Amount), c.Applications, c.AutoApply)
}

// CropSettlement books the haris' share of a crop, split by a versioned
// share rule or by inline percentages.
type CropSettlement struct {
	Number    string             `json:"number" validate:"required"`
	Amount    decimal.Decimal    `json:"amount"`
	ProjectID *uuid.UUID         `json:"project_id,omitempty"`
	RuleID    *uuid.UUID         `json:"rule_id,omitempty"`
	Shares    []allocation.Share `json:"shares,omitempty"`
	// ApprovedSnapshotHash pins the split a reviewer approved.
	ApprovedSnapshotHash string `json:"approved_snapshot_hash,omitempty"`
}

func (c CropSettlement) SourceType() ledger.SourceType { return ledger.SourceCropSettlement }
func (c CropSettlement) SourceID() string              { return c.Number }

func (c CropSettlement) ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error) {
	if !c.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: settlement %s amount must be positive", ErrInvalidDocument, c.Number)
	}
	return pair(cat, accounts.RoleCropShareExpense, accounts.RoleHari, money(c.Amount), "crop settlement "+c.Number)
}

func (c CropSettlement) ComputeAllocations(*accounts.Catalog) ([]allocation.Instruction, error) {
	in := allocation.Instruction{
		Role:                 accounts.RoleHari,
		ProjectID:            c.ProjectID,
		ApprovedSnapshotHash: c.ApprovedSnapshotHash,
	}
	switch {
	case c.RuleID != nil:
		in.Mode = allocation.ModeSharedByRule
		in.RuleID = c.RuleID
	case len(c.Shares) > 0:
		in.Mode = allocation.ModeSharedByPercentage
		in.Shares = c.Shares
	default:
		return nil, fmt.Errorf("%w: settlement %s needs a rule or shares", ErrInvalidDocument, c.Number)
	}
	return []allocation.Instruction{in}, nil
}

// FieldYield is one field's share of a harvest.
type FieldYield struct {
	ProjectID uuid.UUID       `json:"project_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Harvest moves pooled crop cost into inventory, attributed to fields by yield.
type Harvest struct {
	Number     string          `json:"number" validate:"required"`
	ItemID     uuid.UUID       `json:"item_id" validate:"required"`
	PooledCost decimal.Decimal `json:"pooled_cost"`
	Fields     []FieldYield    `json:"fields" validate:"required,min=1,dive"`
}

func (h Harvest) SourceType() ledger.SourceType { return ledger.SourceHarvest }
func (h Harvest) SourceID() string              { return h.Number }

func (h Harvest) quantity() decimal.Decimal {
	total := decimal.Zero
	for _, f := range h.Fields {
		total = total.Add(f.Quantity)
	}
	return total
}

func (h Harvest) ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error) {
	if !h.PooledCost.IsPositive() {
		return nil, fmt.Errorf("%w: harvest %s pooled cost must be positive", ErrInvalidDocument, h.Number)
	}
	return pair(cat, accounts.RoleInventory, accounts.RoleCropWIP, money(h.PooledCost), "harvest "+h.Number)
}

func (h Harvest) ComputeAllocations(*accounts.Catalog) ([]allocation.Instruction, error) {
	shares := make([]allocation.Share, len(h.Fields))
	for i, f := range h.Fields {
		project := f.ProjectID
		shares[i] = allocation.Share{ProjectID: &project, Quantity: f.Quantity}
	}
	return []allocation.Instruction{{Mode: allocation.ModeProportionalByQuantity, Role: accounts.RoleInventory, Shares: shares}}, nil
}

func (h Harvest) Movements() []inventory.Movement {
	return []inventory.Movement{{ItemID: h.ItemID, Quantity: h.quantity(), Value: money(h.PooledCost)}}
}

// FieldHours is one field's machine usage.
type FieldHours struct {
	ProjectID uuid.UUID       `json:"project_id" validate:"required"`
	Hours     decimal.Decimal `json:"hours"`
}

// MachineryCharge records a contractor's invoice spread over fields by hours.
type MachineryCharge struct {
	Number       string          `json:"number" validate:"required"`
	ContractorID uuid.UUID       `json:"contractor_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Usage        []FieldHours    `json:"usage" validate:"required,min=1,dive"`
}

func (m MachineryCharge) SourceType() ledger.SourceType { return ledger.SourceMachineryCharge }
func (m MachineryCharge) SourceID() string              { return m.Number }

func (m MachineryCharge) ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error) {
	if !m.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: machinery charge %s amount must be positive", ErrInvalidDocument, m.Number)
	}
	return pair(cat, accounts.RoleMachineryExpense, accounts.RoleAP, money(m.Amount), "machinery "+m.Number)
}

func (m MachineryCharge) ComputeAllocations(*accounts.Catalog) ([]allocation.Instruction, error) {
	shares := make([]allocation.Share, len(m.Usage))
	for i, u := range m.Usage {
		project := u.ProjectID
		shares[i] = allocation.Share{ProjectID: &project, Quantity: u.Hours}
	}
	return []allocation.Instruction{
		{Mode: allocation.ModeProportionalByQuantity, Role: accounts.RoleMachineryExpense, Shares: shares},
		fullParty(accounts.RoleAP, m.ContractorID, nil),
	}, nil
}

// LeaseAccrual accrues one month of land rent owed to the landlord or to
// co-owners by percentage.
type LeaseAccrual struct {
	LeaseID    string             `json:"lease_id" validate:"required"`
	Month      time.Time          `json:"month"`
	Amount     decimal.Decimal    `json:"amount"`
	LandlordID *uuid.UUID         `json:"landlord_id,omitempty"`
	Owners     []allocation.Share `json:"owners,omitempty"`
	ProjectID  *uuid.UUID         `json:"project_id,omitempty"`
}

func (l LeaseAccrual) SourceType() ledger.SourceType { return ledger.SourceLeaseAccrual }
func (l LeaseAccrual) SourceID() string              { return l.LeaseID }

// IdempotencyKey makes each accrual month a separate posting of the lease.
func (l LeaseAccrual) IdempotencyKey() string {
	return l.Month.Format("2006-01")
}

func (l LeaseAccrual) ComputeLines(cat *accounts.Catalog) ([]ledger.Line, error) {
	if !l.Amount.IsPositive() || l.Month.IsZero() {
		return nil, fmt.Errorf("%w: lease %s needs a month and positive amount", ErrInvalidDocument, l.LeaseID)
	}
	return pair(cat, accounts.RoleLeaseExpense, accounts.RoleLandlord, money(l.Amount), "lease "+l.LeaseID+" "+l.IdempotencyKey())
}

func (l LeaseAccrual) ComputeAllocations(*accounts.Catalog) ([]allocation.Instruction, error) {
	switch {
	case len(l.Owners) > 0:
		return []allocation.Instruction{{Mode: allocation.ModeSharedByPercentage, Role: accounts.RoleLandlord, ProjectID: l.ProjectID, Shares: l.Owners}}, nil
	case l.LandlordID != nil:
		return []allocation.Instruction{fullParty(accounts.RoleLandlord, *l.LandlordID, l.ProjectID)}, nil
	}
	return nil, fmt.Errorf("%w: lease %s needs a landlord or owners", ErrInvalidDocument, l.LeaseID)
}

var (
	_ InventoryMover = GoodsReceipt{}
	_ InventoryMover = Sale{}
	_ InventoryMover = Harvest{}
	_ Settler        = Payment{}
	_ Settler        = CreditNote{}
	_ Keyed          = LeaseAccrual{}
)
