package inventory

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/ledger/fault"
)

// Movement is a signed quantity and value change for one item. Inbound
// movements are positive.
type Movement struct {
	ItemID   uuid.UUID       `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

// Negated returns the movement that exactly undoes m.
func (m Movement) Negated() Movement {
	return Movement{ItemID: m.ItemID, Quantity: m.Quantity.Neg(), Value: m.Value.Neg()}
}

// Balance summarises stock for one item of a tenant.
type Balance struct {
	TenantID uuid.UUID
	ItemID   uuid.UUID
	Quantity decimal.Decimal
	Value    decimal.Decimal
}

var (
	// ErrBalanceNotFound indicates the item has no stored balance yet.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
	// ErrNegativeStock indicates a movement would take quantity below zero.
	ErrNegativeStock = fault.New(fault.KindStateConflict, "inventory: negative stock not allowed")
	// ErrInvalidMovement indicates a zero quantity or a missing item.
	ErrInvalidMovement = fault.New(fault.KindValidation, "inventory: invalid movement")
)
