package subledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/platform/db"
)

// Repository reads subledger data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type snapshot struct {
	tx pgx.Tx
}

// WithSnapshot runs fn inside a read-only repeatable-read transaction so
// every query of one report sees the same data.
func (r *Repository) WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error {
	if r == nil || r.pool == nil {
		return errors.New("subledger repository not initialised")
	}
	return db.WithReadOnlyTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &snapshot{tx: tx})
	})
}

func (s *snapshot) LoadCatalog(ctx context.Context, tenantID uuid.UUID) (*accounts.Catalog, error) {
	return accounts.Load(ctx, s.tx, tenantID)
}

func (s *snapshot) Items(ctx context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]Item, error) {
	rows, err := s.tx.Query(ctx, `SELECT ar.posting_group_id, ar.party_id, ar.account_id, pg.source_type, pg.source_id,
pg.posting_date, pg.due_date, SUM(ar.amount)
FROM allocation_rows ar
JOIN posting_groups pg ON pg.tenant_id = ar.tenant_id AND pg.id = ar.posting_group_id
WHERE ar.tenant_id=$1 AND ar.account_id = ANY($2) AND ar.party_id IS NOT NULL AND pg.posting_date <= $3
AND `+ledger.StandingPredicate+`
GROUP BY ar.posting_group_id, ar.party_id, ar.account_id, pg.source_type, pg.source_id, pg.posting_date, pg.due_date
ORDER BY pg.posting_date, ar.posting_group_id, ar.party_id`, tenantID, accountIDs, asOf)
	if err != nil {
		return nil, fmt.Errorf("subledger: items: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.GroupID, &it.PartyID, &it.AccountID, &it.SourceType, &it.SourceID,
			&it.PostingDate, &it.DueDate, &it.Amount); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *snapshot) Settlements(ctx context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]Applied, error) {
	rows, err := s.tx.Query(ctx, `SELECT instrument_posting_group_id, document_posting_group_id, party_id, account_id, amount, allocation_date
FROM settlement_allocations
WHERE tenant_id=$1 AND account_id = ANY($2) AND status='ACTIVE' AND allocation_date <= $3
ORDER BY allocation_date, seq, id`, tenantID, accountIDs, asOf)
	if err != nil {
		return nil, fmt.Errorf("subledger: settlements: %w", err)
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.InstrumentGroupID, &a.DocumentGroupID, &a.PartyID, &a.AccountID, &a.Amount, &a.AllocationDate); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *snapshot) ControlTotals(ctx context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]AccountTotal, error) {
	rows, err := s.tx.Query(ctx, `SELECT le.account_id, COALESCE(SUM(le.debit_amount),0), COALESCE(SUM(le.credit_amount),0)
FROM ledger_entries le
JOIN posting_groups pg ON pg.tenant_id = le.tenant_id AND pg.id = le.posting_group_id
WHERE le.tenant_id=$1 AND le.account_id = ANY($2) AND pg.posting_date <= $3 AND `+ledger.StandingPredicate+`
GROUP BY le.account_id`, tenantID, accountIDs, asOf)
	if err != nil {
		return nil, fmt.Errorf("subledger: control totals: %w", err)
	}
	defer rows.Close()
	var out []AccountTotal
	for rows.Next() {
		var t AccountTotal
		if err := rows.Scan(&t.AccountID, &t.Debit, &t.Credit); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *snapshot) EntryBalances(ctx context.Context, tenantID uuid.UUID, q BalanceQuery) ([]Balance, error) {
	args := []any{tenantID, q.AccountIDs, q.From, q.To}
	var where strings.Builder
	if q.CropCycleID != nil {
		args = append(args, *q.CropCycleID)
		fmt.Fprintf(&where, " AND pg.crop_cycle_id=$%d", len(args))
	}
	rows, err := s.tx.Query(ctx, `SELECT le.account_id,
COALESCE(SUM(le.debit_amount - le.credit_amount) FILTER (WHERE pg.posting_date < $3), 0),
COALESCE(SUM(le.debit_amount - le.credit_amount) FILTER (WHERE pg.posting_date >= $3), 0)
FROM ledger_entries le
JOIN posting_groups pg ON pg.tenant_id = le.tenant_id AND pg.id = le.posting_group_id
WHERE le.tenant_id=$1 AND le.account_id = ANY($2) AND pg.posting_date <= $4 AND `+ledger.StandingPredicate+where.String()+`
GROUP BY le.account_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("subledger: entry balances: %w", err)
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.AccountID, &b.Opening, &b.Movement); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *snapshot) RowBalances(ctx context.Context, tenantID uuid.UUID, q BalanceQuery) ([]Balance, error) {
	args := []any{tenantID, q.AccountIDs, q.From, q.To}
	var where strings.Builder
	if q.CropCycleID != nil {
		args = append(args, *q.CropCycleID)
		fmt.Fprintf(&where, " AND pg.crop_cycle_id=$%d", len(args))
	}
	if q.PartyID != nil {
		args = append(args, *q.PartyID)
		fmt.Fprintf(&where, " AND ar.party_id=$%d", len(args))
	}
	if q.ProjectID != nil {
		args = append(args, *q.ProjectID)
		fmt.Fprintf(&where, " AND ar.project_id=$%d", len(args))
	}
	rows, err := s.tx.Query(ctx, `SELECT ar.account_id, ar.party_id,
COALESCE(SUM(ar.amount) FILTER (WHERE pg.posting_date < $3), 0),
COALESCE(SUM(ar.amount) FILTER (WHERE pg.posting_date >= $3), 0)
FROM allocation_rows ar
JOIN posting_groups pg ON pg.tenant_id = ar.tenant_id AND pg.id = ar.posting_group_id
WHERE ar.tenant_id=$1 AND ar.account_id = ANY($2) AND ar.party_id IS NOT NULL AND pg.posting_date <= $4
AND `+ledger.StandingPredicate+where.String()+`
GROUP BY ar.account_id, ar.party_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("subledger: row balances: %w", err)
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.AccountID, &b.PartyID, &b.Opening, &b.Movement); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
