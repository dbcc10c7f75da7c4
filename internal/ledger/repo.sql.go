package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agriops/agriledger/internal/inventory"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/ledger/periods"
	"github.com/agriops/agriledger/internal/platform/db"
)

// PgRepository persists the ledger in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
	*inventory.TxStore
}

// WithTx executes fn within a serializable transaction. Serialization
// failures, deadlocks and unique violations surface as ErrConcurrentWrite.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, TxStore: inventory.NewTxStore(tx)})
	})
	return classify(err)
}

// LoadCatalog reads the tenant's chart outside any posting transaction.
func (r *PgRepository) LoadCatalog(ctx context.Context, tenantID uuid.UUID) (*accounts.Catalog, error) {
	return accounts.Load(ctx, r.pool, tenantID)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", ErrConcurrentWrite, pgErr.Code)
		}
	}
	return err
}

const groupColumns = `pg.id, pg.tenant_id, pg.crop_cycle_id, pg.source_type, pg.source_id, pg.posting_date, pg.due_date,
pg.idempotency_key, pg.currency, pg.reversal_of_posting_group_id, pg.correction_reason, pg.created_at,
(SELECT rv.id FROM posting_groups rv WHERE rv.tenant_id = pg.tenant_id AND rv.reversal_of_posting_group_id = pg.id)`

func scanGroup(row pgx.Row) (PostingGroup, error) {
	var g PostingGroup
	err := row.Scan(&g.ID, &g.TenantID, &g.CropCycleID, &g.SourceType, &g.SourceID, &g.PostingDate, &g.DueDate,
		&g.IdempotencyKey, &g.Currency, &g.ReversalOf, &g.CorrectionReason, &g.CreatedAt, &g.ReversedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return PostingGroup{}, ErrPostingNotFound
	}
	return g, err
}

func (r *txRepository) LoadCatalog(ctx context.Context, tenantID uuid.UUID) (*accounts.Catalog, error) {
	return accounts.Load(ctx, r.tx, tenantID)
}

func (r *txRepository) FindBySource(ctx context.Context, tenantID uuid.UUID, sourceType SourceType, sourceID, key string) (PostingGroup, error) {
	return scanGroup(r.tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM posting_groups pg
WHERE pg.tenant_id=$1 AND pg.source_type=$2 AND pg.source_id=$3 AND pg.idempotency_key=$4`,
		tenantID, sourceType, sourceID, key))
}

func (r *txRepository) GetGroup(ctx context.Context, tenantID, id uuid.UUID) (PostingGroup, error) {
	return scanGroup(r.tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM posting_groups pg
WHERE pg.tenant_id=$1 AND pg.id=$2`, tenantID, id))
}

func (r *txRepository) LockGroup(ctx context.Context, tenantID, id uuid.UUID) (PostingGroup, error) {
	return scanGroup(r.tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM posting_groups pg
WHERE pg.tenant_id=$1 AND pg.id=$2 FOR UPDATE OF pg`, tenantID, id))
}

func (r *txRepository) ListGroups(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]PostingGroup, int, error) {
	var where strings.Builder
	args := []any{tenantID}
	where.WriteString("pg.tenant_id=$1")
	if filter.SourceType != "" {
		args = append(args, filter.SourceType)
		fmt.Fprintf(&where, " AND pg.source_type=$%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		fmt.Fprintf(&where, " AND pg.posting_date >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		fmt.Fprintf(&where, " AND pg.posting_date <= $%d", len(args))
	}
	if filter.ActiveOnly {
		where.WriteString(" AND " + ActivePredicate)
	}

	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM posting_groups pg WHERE `+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM posting_groups pg WHERE %s
ORDER BY pg.posting_date DESC, pg.created_at DESC, pg.id LIMIT $%d OFFSET $%d`, groupColumns, where.String(), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var groups []PostingGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, 0, err
		}
		groups = append(groups, g)
	}
	return groups, total, rows.Err()
}

func (r *txRepository) ListEntries(ctx context.Context, tenantID, groupID uuid.UUID) ([]LedgerEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, posting_group_id, account_id, debit_amount, credit_amount, currency, memo
FROM ledger_entries WHERE tenant_id=$1 AND posting_group_id=$2 ORDER BY seq`, tenantID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PostingGroupID, &e.AccountID, &e.Debit, &e.Credit, &e.Currency, &e.Memo); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *txRepository) ListAllocationRows(ctx context.Context, tenantID, groupID uuid.UUID) ([]AllocationRow, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, posting_group_id, account_id, party_id, project_id, allocation_type, amount, rule_snapshot
FROM allocation_rows WHERE tenant_id=$1 AND posting_group_id=$2 ORDER BY seq`, tenantID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AllocationRow
	for rows.Next() {
		var a AllocationRow
		if err := rows.Scan(&a.ID, &a.TenantID, &a.PostingGroupID, &a.AccountID, &a.PartyID, &a.ProjectID, &a.Type, &a.Amount, &a.RuleSnapshot); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const settlementColumns = `id, tenant_id, instrument_posting_group_id, document_posting_group_id, party_id, account_id,
amount, allocation_date, status, unapplied_at`

func scanSettlement(row pgx.Row) (Settlement, error) {
	var s Settlement
	err := row.Scan(&s.ID, &s.TenantID, &s.InstrumentGroupID, &s.DocumentGroupID, &s.PartyID, &s.AccountID,
		&s.Amount, &s.AllocationDate, &s.Status, &s.UnappliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, ErrSettlementNotFound
	}
	return s, err
}

// ListSettlements returns settlements where the group is either the
// instrument or the document.
func (r *txRepository) ListSettlements(ctx context.Context, tenantID, groupID uuid.UUID) ([]Settlement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+settlementColumns+` FROM settlement_allocations
WHERE tenant_id=$1 AND (instrument_posting_group_id=$2 OR document_posting_group_id=$2)
ORDER BY allocation_date, seq, id`, tenantID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertGroup(ctx context.Context, g PostingGroup) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO posting_groups (id, tenant_id, crop_cycle_id, source_type, source_id, posting_date, due_date,
idempotency_key, currency, reversal_of_posting_group_id, correction_reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) ON CONFLICT DO NOTHING`,
		g.ID, g.TenantID, g.CropCycleID, g.SourceType, g.SourceID, g.PostingDate, g.DueDate,
		g.IdempotencyKey, g.Currency, g.ReversalOf, g.CorrectionReason, g.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) InsertEntries(ctx context.Context, entries []LedgerEntry) error {
	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(`INSERT INTO ledger_entries (id, tenant_id, posting_group_id, seq, account_id, debit_amount, credit_amount, currency, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, e.ID, e.TenantID, e.PostingGroupID, i+1, e.AccountID, e.Debit, e.Credit, e.Currency, e.Memo)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) InsertAllocationRows(ctx context.Context, rows []AllocationRow) error {
	batch := &pgx.Batch{}
	for i, a := range rows {
		batch.Queue(`INSERT INTO allocation_rows (id, tenant_id, posting_group_id, seq, account_id, party_id, project_id, allocation_type, amount, rule_snapshot)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, a.ID, a.TenantID, a.PostingGroupID, i+1, a.AccountID, a.PartyID, a.ProjectID, a.Type, a.Amount, []byte(a.RuleSnapshot))
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) InsertSettlements(ctx context.Context, settlements []Settlement) error {
	batch := &pgx.Batch{}
	for i, s := range settlements {
		batch.Queue(`INSERT INTO settlement_allocations (id, tenant_id, seq, instrument_posting_group_id, document_posting_group_id,
party_id, account_id, amount, allocation_date, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.ID, s.TenantID, i+1, s.InstrumentGroupID, s.DocumentGroupID,
			s.PartyID, s.AccountID, s.Amount, s.AllocationDate, s.Status)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) DocumentPosition(ctx context.Context, tenantID, documentID, partyID, accountID uuid.UUID) (Position, error) {
	var p Position
	err := r.tx.QueryRow(ctx, `SELECT
  COALESCE((SELECT SUM(amount) FROM allocation_rows
    WHERE tenant_id=$1 AND posting_group_id=$2 AND party_id=$3 AND account_id=$4), 0),
  COALESCE((SELECT SUM(amount) FROM settlement_allocations
    WHERE tenant_id=$1 AND document_posting_group_id=$2 AND party_id=$3 AND account_id=$4 AND status='ACTIVE'), 0)`,
		tenantID, documentID, partyID, accountID).Scan(&p.Face, &p.Settled)
	return p, err
}

func (r *txRepository) CountActiveSettlements(ctx context.Context, tenantID, groupID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM settlement_allocations
WHERE tenant_id=$1 AND status='ACTIVE' AND (instrument_posting_group_id=$2 OR document_posting_group_id=$2)`,
		tenantID, groupID).Scan(&n)
	return n, err
}

func (r *txRepository) GetSettlementForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Settlement, error) {
	return scanSettlement(r.tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlement_allocations
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (r *txRepository) MarkSettlementUnapplied(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE settlement_allocations SET status='UNAPPLIED', unapplied_at=$3
WHERE tenant_id=$1 AND id=$2 AND status='ACTIVE'`, tenantID, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

func (r *txRepository) FindPeriodCovering(ctx context.Context, tenantID uuid.UUID, date time.Time) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, start_date, end_date, status FROM accounting_periods
WHERE tenant_id=$1 AND start_date <= $2 AND end_date >= $2 ORDER BY start_date DESC LIMIT 1 FOR SHARE`, tenantID, date).
		Scan(&p.ID, &p.TenantID, &p.StartDate, &p.EndDate, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return p, err
}

func (r *txRepository) InsertPeriod(ctx context.Context, p periods.Period) (periods.Period, error) {
	var out periods.Period
	err := r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (id, tenant_id, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, start_date) DO UPDATE SET start_date = EXCLUDED.start_date
RETURNING id, tenant_id, start_date, end_date, status`, p.ID, p.TenantID, p.StartDate, p.EndDate, p.Status).
		Scan(&out.ID, &out.TenantID, &out.StartDate, &out.EndDate, &out.Status)
	return out, err
}

func (r *txRepository) GetCropCycle(ctx context.Context, tenantID, cycleID uuid.UUID) (periods.CropCycle, error) {
	var c periods.CropCycle
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, name, start_date, end_date, status FROM crop_cycles
WHERE tenant_id=$1 AND id=$2 FOR SHARE`, tenantID, cycleID).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.StartDate, &c.EndDate, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.CropCycle{}, fmt.Errorf("%w: %s", periods.ErrCycleNotFound, cycleID)
	}
	return c, err
}

func (r *txRepository) EffectiveRule(ctx context.Context, tenantID, ruleID uuid.UUID, on time.Time) (allocation.ShareRule, error) {
	var (
		rule   allocation.ShareRule
		shares []byte
	)
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, version, effective_from, effective_to, shares FROM share_rules
WHERE tenant_id=$1 AND id=$2 AND effective_from <= $3 AND (effective_to IS NULL OR effective_to >= $3)
ORDER BY version DESC LIMIT 1`, tenantID, ruleID, on).
		Scan(&rule.ID, &rule.TenantID, &rule.Version, &rule.EffectiveFrom, &rule.EffectiveTo, &shares)
	if errors.Is(err, pgx.ErrNoRows) {
		return allocation.ShareRule{}, fmt.Errorf("%w: %s on %s", allocation.ErrRuleNotFound, ruleID, on.Format(time.DateOnly))
	}
	if err != nil {
		return allocation.ShareRule{}, err
	}
	if err := json.Unmarshal(shares, &rule.Shares); err != nil {
		return allocation.ShareRule{}, fmt.Errorf("ledger: decode share rule %s: %w", ruleID, err)
	}
	return rule, nil
}
