package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/ledger/fault"
)

type memoryStore struct {
	balances  map[uuid.UUID]Balance
	movements map[uuid.UUID][]Movement
}

func newMemoryStore() *memoryStore {
	return &memoryStore{balances: make(map[uuid.UUID]Balance), movements: make(map[uuid.UUID][]Movement)}
}

func (m *memoryStore) GetBalanceForUpdate(ctx context.Context, tenantID, itemID uuid.UUID) (Balance, error) {
	b, ok := m.balances[itemID]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (m *memoryStore) UpsertBalance(ctx context.Context, b Balance) error {
	m.balances[b.ItemID] = b
	return nil
}

func (m *memoryStore) InsertMovements(ctx context.Context, tenantID, groupID uuid.UUID, ms []Movement) error {
	m.movements[groupID] = append(m.movements[groupID], ms...)
	return nil
}

func (m *memoryStore) ListMovements(ctx context.Context, tenantID, groupID uuid.UUID) ([]Movement, error) {
	return m.movements[groupID], nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyMovementsTracksQuantityAndValue(t *testing.T) {
	store := newMemoryStore()
	tenant, item := uuid.New(), uuid.New()
	ctx := context.Background()

	require.NoError(t, ApplyMovements(ctx, store, tenant, uuid.New(), []Movement{{ItemID: item, Quantity: d("10"), Value: d("100")}}))
	require.NoError(t, ApplyMovements(ctx, store, tenant, uuid.New(), []Movement{{ItemID: item, Quantity: d("10"), Value: d("140")}}))

	b := store.balances[item]
	require.True(t, b.Quantity.Equal(d("20")))
	require.True(t, b.Value.Equal(d("240")))
	require.True(t, b.AverageCost().Equal(d("12")))

	err := ApplyMovements(ctx, store, tenant, uuid.New(), []Movement{{ItemID: item, Quantity: d("-25"), Value: d("-300")}})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.True(t, store.balances[item].Quantity.Equal(d("20")))
}

func TestNegatedMovementUndoes(t *testing.T) {
	m := Movement{ItemID: uuid.New(), Quantity: d("10"), Value: d("100")}
	b, err := Balance{ItemID: m.ItemID}.Apply(m)
	require.NoError(t, err)
	b, err = b.Apply(m.Negated())
	require.NoError(t, err)
	require.True(t, b.Quantity.IsZero())
	require.True(t, b.Value.IsZero())
}

func TestMovementValidate(t *testing.T) {
	require.ErrorIs(t, Movement{}.Validate(), ErrInvalidMovement)
	require.ErrorIs(t, Movement{ItemID: uuid.New(), Quantity: d("1"), Value: d("-5")}.Validate(), fault.ErrValidation)
	require.NoError(t, Movement{ItemID: uuid.New(), Quantity: d("-1"), Value: d("-5")}.Validate())
}
