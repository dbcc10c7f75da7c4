package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Apply returns the balance after m.
func (b Balance) Apply(m Movement) (Balance, error) {
	qty := b.Quantity.Add(m.Quantity)
	if qty.IsNegative() {
		return b, fmt.Errorf("%w: item %s would hold %s", ErrNegativeStock, m.ItemID, qty)
	}
	value := b.Value.Add(m.Value)
	if qty.IsZero() {
		value = decimal.Zero
	}
	b.Quantity = qty
	b.Value = value
	return b, nil
}

// AverageCost returns the moving average unit cost, zero when empty.
func (b Balance) AverageCost() decimal.Decimal {
	if !b.Quantity.IsPositive() {
		return decimal.Zero
	}
	return b.Value.DivRound(b.Quantity, 4)
}

// Validate checks a movement before it is posted.
func (m Movement) Validate() error {
	if m.ItemID == uuid.Nil {
		return fmt.Errorf("%w: item required", ErrInvalidMovement)
	}
	if m.Quantity.IsZero() {
		return fmt.Errorf("%w: item %s has zero quantity", ErrInvalidMovement, m.ItemID)
	}
	if !m.Value.IsZero() && m.Value.IsPositive() != m.Quantity.IsPositive() {
		return fmt.Errorf("%w: item %s quantity and value signs differ", ErrInvalidMovement, m.ItemID)
	}
	return nil
}

// Store persists balances and movement history inside the caller's transaction.
type Store interface {
	GetBalanceForUpdate(ctx context.Context, tenantID, itemID uuid.UUID) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovements(ctx context.Context, tenantID, postingGroupID uuid.UUID, movements []Movement) error
	ListMovements(ctx context.Context, tenantID, postingGroupID uuid.UUID) ([]Movement, error)
}

// ApplyMovements locks, updates and records every movement of a posting group.
// Any failure leaves the caller's transaction to roll back.
func ApplyMovements(ctx context.Context, store Store, tenantID, postingGroupID uuid.UUID, movements []Movement) error {
	if len(movements) == 0 {
		return nil
	}
	for _, m := range movements {
		balance, err := store.GetBalanceForUpdate(ctx, tenantID, m.ItemID)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		if errors.Is(err, ErrBalanceNotFound) {
			balance = Balance{TenantID: tenantID, ItemID: m.ItemID}
		}
		next, err := balance.Apply(m)
		if err != nil {
			return err
		}
		if err := store.UpsertBalance(ctx, next); err != nil {
			return err
		}
	}
	return store.InsertMovements(ctx, tenantID, postingGroupID, movements)
}
