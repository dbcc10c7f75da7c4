package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/documents"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/periods"
	"github.com/agriops/agriledger/internal/platform/db"
	"github.com/agriops/agriledger/internal/shared"
	"github.com/agriops/agriledger/internal/subledger"
	"github.com/agriops/agriledger/internal/testing/pgtest"
)

func TestPostgresPostingLifecycle(t *testing.T) {
	pool := pgtest.Start(t)
	ctx := context.Background()
	tenant := uuid.New()
	supplier := uuid.New()

	accts, bindings := accounts.DefaultChart(tenant)
	require.NoError(t, db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		return accounts.Seed(ctx, tx, tenant, accts, bindings)
	}))

	repo := ledger.NewRepository(pool)
	svc := ledger.NewService(repo, shared.NewAuditLogger(pool), nil, nil, ledger.Config{})
	svc.WithNow(func() time.Time { return day("2025-05-31") })
	reports := subledger.NewService(subledger.NewRepository(pool), nil, nil)
	reports.WithNow(func() time.Time { return day("2025-05-31") })
	docs := documents.NewService(repo, svc, reports, nil)

	due := day("2025-05-20")
	header := documents.Header{TenantID: tenant, PostingDate: day("2025-05-02"), DueDate: &due, ActorID: "it"}
	grn := documents.GoodsReceipt{Number: "GRN-PG-1", SupplierID: supplier, ItemID: uuid.New(), Quantity: amt("4"), UnitCost: amt("25")}

	receipt, err := docs.Post(ctx, header, grn)
	require.NoError(t, err)
	require.False(t, receipt.Replayed)

	replay, err := docs.Post(ctx, header, grn)
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.Equal(t, receipt.ID, replay.ID)

	payment, err := docs.Post(ctx,
		documents.Header{TenantID: tenant, PostingDate: day("2025-05-10"), ActorID: "it"},
		documents.Payment{Number: "PAY-PG-1", Direction: documents.DirectionPaid, PartyID: supplier, Amount: amt("40"), AutoApply: true})
	require.NoError(t, err)
	require.Len(t, payment.Settlements, 1)

	aging, err := reports.Aging(ctx, tenant, subledger.SidePayable, day("2025-05-31"))
	require.NoError(t, err)
	require.Equal(t, "60.00", aging.Total.StringFixed(2))

	rec, err := reports.Reconcile(ctx, tenant, subledger.SidePayable, day("2025-05-31"))
	require.NoError(t, err)
	require.True(t, rec.Balanced, "residual %s", rec.Residual)
	require.Equal(t, "60.00", rec.GLControlTotal.StringFixed(2))

	reverse := ledger.ReverseRequest{TenantID: tenant, PostingGroupID: payment.ID, ReversalDate: day("2025-05-12"), Reason: "wrong supplier", ActorID: "it"}
	_, err = svc.Reverse(ctx, reverse)
	require.ErrorIs(t, err, ledger.ErrActiveSettlements)

	_, err = svc.Unapply(ctx, tenant, payment.Settlements[0].ID, "it")
	require.NoError(t, err)
	reversal, err := svc.Reverse(ctx, reverse)
	require.NoError(t, err)
	require.Equal(t, payment.ID, *reversal.ReversalOf)

	aging, err = reports.Aging(ctx, tenant, subledger.SidePayable, day("2025-05-31"))
	require.NoError(t, err)
	require.Equal(t, "100.00", aging.Total.StringFixed(2))

	_, err = pool.Exec(ctx, `UPDATE accounting_periods SET status = 'CLOSED' WHERE tenant_id = $1`, tenant)
	require.NoError(t, err)
	_, err = docs.Post(ctx, documents.Header{TenantID: tenant, PostingDate: day("2025-05-15")},
		documents.GoodsReceipt{Number: "GRN-PG-2", SupplierID: supplier, ItemID: uuid.New(), Quantity: amt("1"), UnitCost: amt("1")})
	require.ErrorIs(t, err, periods.ErrPeriodClosed)

	var audits int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs WHERE tenant_id = $1`, tenant).Scan(&audits))
	require.GreaterOrEqual(t, audits, 4)
}
