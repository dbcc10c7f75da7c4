package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxStore implements Store on an open pgx transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps tx.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

func (s *TxStore) GetBalanceForUpdate(ctx context.Context, tenantID, itemID uuid.UUID) (Balance, error) {
	var b Balance
	err := s.tx.QueryRow(ctx, `SELECT tenant_id, item_id, quantity, value FROM inventory_balances
WHERE tenant_id=$1 AND item_id=$2 FOR UPDATE`, tenantID, itemID).
		Scan(&b.TenantID, &b.ItemID, &b.Quantity, &b.Value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (s *TxStore) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO inventory_balances (tenant_id, item_id, quantity, value, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (tenant_id, item_id) DO UPDATE SET quantity=EXCLUDED.quantity, value=EXCLUDED.value, updated_at=NOW()`,
		b.TenantID, b.ItemID, b.Quantity, b.Value)
	return err
}

func (s *TxStore) InsertMovements(ctx context.Context, tenantID, postingGroupID uuid.UUID, movements []Movement) error {
	batch := &pgx.Batch{}
	for i, m := range movements {
		batch.Queue(`INSERT INTO inventory_movements (tenant_id, posting_group_id, seq, item_id, quantity, value)
VALUES ($1,$2,$3,$4,$5,$6)`, tenantID, postingGroupID, i+1, m.ItemID, m.Quantity, m.Value)
	}
	return s.tx.SendBatch(ctx, batch).Close()
}

func (s *TxStore) ListMovements(ctx context.Context, tenantID, postingGroupID uuid.UUID) ([]Movement, error) {
	rows, err := s.tx.Query(ctx, `SELECT item_id, quantity, value FROM inventory_movements
WHERE tenant_id=$1 AND posting_group_id=$2 ORDER BY seq`, tenantID, postingGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ItemID, &m.Quantity, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
