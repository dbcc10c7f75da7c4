package subledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/documents"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/fault"
	"github.com/agriops/agriledger/internal/ledger/ledgertest"
	"github.com/agriops/agriledger/internal/subledger"
)

type fixture struct {
	store    *ledgertest.Store
	chart    ledgertest.Chart
	ledger   *ledger.Service
	reports  *subledger.Service
	docs     *documents.Service
	tenant   uuid.UUID
	supplier uuid.UUID
}

func newFixture(t *testing.T, cache *subledger.Cache) *fixture {
	t.Helper()
	tenant := uuid.New()
	store := ledgertest.NewStore()
	chart := ledgertest.NewChart(tenant)
	store.AddCatalog(chart.Catalog)
	var notifier ledger.Notifier
	if cache != nil {
		notifier = cache
	}
	svc := ledger.NewService(store, nil, notifier, nil, ledger.Config{})
	svc.WithNow(func() time.Time { return day("2025-07-31") })
	reports := subledger.NewService(store, cache, nil)
	reports.WithNow(func() time.Time { return day("2025-07-31") })
	return &fixture{
		store:    store,
		chart:    chart,
		ledger:   svc,
		reports:  reports,
		docs:     documents.NewService(store, svc, reports, nil),
		tenant:   tenant,
		supplier: uuid.New(),
	}
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) receive(t *testing.T, number, date, due, value string) ledger.PostingGroup {
	t.Helper()
	d := day(due)
	g, err := f.docs.Post(context.Background(),
		documents.Header{TenantID: f.tenant, PostingDate: day(date), DueDate: &d},
		documents.GoodsReceipt{Number: number, SupplierID: f.supplier, ItemID: uuid.New(), Quantity: amt("1"), UnitCost: amt(value)})
	require.NoError(t, err)
	return g
}

func (f *fixture) pay(t *testing.T, number, date, value string, apply ...documents.Application) ledger.PostingGroup {
	t.Helper()
	g, err := f.docs.Post(context.Background(),
		documents.Header{TenantID: f.tenant, PostingDate: day(date)},
		documents.Payment{Number: number, Direction: documents.DirectionPaid, PartyID: f.supplier, Amount: amt(value), Applications: apply})
	require.NoError(t, err)
	return g
}

func TestBucketFor(t *testing.T) {
	asOf := day("2025-07-31")
	cases := []struct {
		due  string
		want subledger.Bucket
	}{
		{"2025-08-15", subledger.BucketCurrent},
		{"2025-07-31", subledger.BucketCurrent},
		{"2025-07-30", subledger.Bucket1To30},
		{"2025-07-01", subledger.Bucket1To30},
		{"2025-06-30", subledger.Bucket31To60},
		{"2025-05-02", subledger.Bucket61To90},
		{"2025-05-01", subledger.Bucket90Plus},
		{"2025-04-30", subledger.Bucket90Plus},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, subledger.BucketFor(asOf, day(tc.due)), tc.due)
	}
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]subledger.Side{"ap": subledger.SidePayable, "PAYABLE": subledger.SidePayable, "ar": subledger.SideReceivable} {
		got, err := subledger.ParseSide(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := subledger.ParseSide("gl")
	require.ErrorIs(t, err, fault.ErrValidation)
}

func TestAgingRespectsCutoffs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	grn := f.receive(t, "GRN-1", "2025-06-01", "2025-06-10", "100")
	f.pay(t, "PAY-1", "2025-06-20", "40", documents.Application{DocumentID: grn.ID, Amount: amt("40")})

	before, err := f.reports.Aging(ctx, f.tenant, subledger.SidePayable, day("2025-05-31"))
	require.NoError(t, err)
	require.Empty(t, before.Rows)
	require.True(t, before.Total.IsZero())

	mid, err := f.reports.Aging(ctx, f.tenant, subledger.SidePayable, day("2025-06-15"))
	require.NoError(t, err)
	require.Len(t, mid.Rows, 1)
	require.Equal(t, "100.00", mid.Rows[0].Open.StringFixed(2))
	require.Equal(t, subledger.Bucket1To30, mid.Rows[0].Bucket)

	after, err := f.reports.Aging(ctx, f.tenant, subledger.SidePayable, day("2025-07-31"))
	require.NoError(t, err)
	require.Len(t, after.Rows, 1)
	require.Equal(t, "60.00", after.Total.StringFixed(2))
	require.Equal(t, "60.00", after.Buckets[subledger.Bucket31To60].StringFixed(2))
	require.Equal(t, "100.00", after.Rows[0].Face.StringFixed(2))

	receivable, err := f.reports.Aging(ctx, f.tenant, subledger.SideReceivable, day("2025-07-31"))
	require.NoError(t, err)
	require.Empty(t, receivable.Rows)
}

func TestReconciliationAccountsForUnappliedCash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.receive(t, "GRN-1", "2025-07-01", "2025-07-15", "100")
	f.pay(t, "PAY-ADV", "2025-07-02", "50")

	rec, err := f.reports.Reconcile(ctx, f.tenant, subledger.SidePayable, day("2025-07-31"))
	require.NoError(t, err)
	require.True(t, rec.Balanced)
	require.Equal(t, "100.00", rec.SubledgerOpenTotal.StringFixed(2))
	require.Equal(t, "50.00", rec.GLControlTotal.StringFixed(2))
	require.Equal(t, "50.00", rec.Delta.StringFixed(2))
	require.Equal(t, "50.00", rec.UnappliedTotal.StringFixed(2))
	require.True(t, rec.Residual.IsZero())
}

func TestReversalDropsOutOfReports(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	keep := f.receive(t, "GRN-1", "2025-07-01", "2025-07-15", "100")
	drop := f.receive(t, "GRN-2", "2025-07-02", "2025-07-15", "70")

	_, err := f.ledger.Reverse(ctx, ledger.ReverseRequest{
		TenantID: f.tenant, PostingGroupID: drop.ID, ReversalDate: day("2025-07-03"), Reason: "duplicate delivery",
	})
	require.NoError(t, err)

	aging, err := f.reports.Aging(ctx, f.tenant, subledger.SidePayable, day("2025-07-31"))
	require.NoError(t, err)
	require.Len(t, aging.Rows, 1)
	require.Equal(t, keep.ID, aging.Rows[0].GroupID)

	rec, err := f.reports.Reconcile(ctx, f.tenant, subledger.SidePayable, day("2025-07-31"))
	require.NoError(t, err)
	require.True(t, rec.Balanced)
	require.Equal(t, "100.00", rec.GLControlTotal.StringFixed(2))
}

func TestSummaryOpeningPlusMovementIsClosing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	other := uuid.New()
	f.receive(t, "GRN-MAY", "2025-05-20", "2025-06-20", "100")
	f.receive(t, "GRN-JUL", "2025-07-05", "2025-08-05", "50")
	f.pay(t, "PAY-1", "2025-07-10", "30")
	d := day("2025-07-20")
	_, err := f.docs.Post(ctx, documents.Header{TenantID: f.tenant, PostingDate: day("2025-07-06"), DueDate: &d},
		documents.GoodsReceipt{Number: "GRN-OTHER", SupplierID: other, ItemID: uuid.New(), Quantity: amt("2"), UnitCost: amt("5")})
	require.NoError(t, err)

	byRole, err := f.reports.Summary(ctx, f.tenant, subledger.SummaryFilter{
		From: day("2025-07-01"), To: day("2025-07-31"), Role: accounts.RoleAP,
	})
	require.NoError(t, err)
	require.Len(t, byRole.Lines, 1)
	line := byRole.Lines[0]
	require.Equal(t, f.chart.ID(accounts.RoleAP), line.AccountID)
	require.Equal(t, "-100.00", line.Opening.StringFixed(2))
	require.Equal(t, "-30.00", line.Movement.StringFixed(2))
	require.Equal(t, "-130.00", line.Closing.StringFixed(2))

	byParty, err := f.reports.Summary(ctx, f.tenant, subledger.SummaryFilter{
		From: day("2025-07-01"), To: day("2025-07-31"), Role: accounts.RoleAP, GroupBy: subledger.GroupByRoleParty,
	})
	require.NoError(t, err)
	require.Len(t, byParty.Lines, 2)
	closing := decimal.Zero
	for _, l := range byParty.Lines {
		require.True(t, l.Opening.Add(l.Movement).Equal(l.Closing))
		closing = closing.Add(l.Closing)
		if *l.PartyID == other {
			require.Equal(t, "-10.00", l.Closing.StringFixed(2))
		}
	}
	require.True(t, closing.Equal(line.Closing))

	scoped, err := f.reports.Summary(ctx, f.tenant, subledger.SummaryFilter{
		From: day("2025-07-01"), To: day("2025-07-31"), PartyID: &other,
	})
	require.NoError(t, err)
	require.Len(t, scoped.Lines, 1)
	require.Equal(t, accounts.RoleAP, scoped.Lines[0].Role)
}

func TestSummaryValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.reports.Summary(ctx, f.tenant, subledger.SummaryFilter{From: day("2025-07-01"), To: day("2025-07-31"), GroupBy: "ACCOUNT"})
	require.ErrorIs(t, err, fault.ErrValidation)
	_, err = f.reports.Summary(ctx, f.tenant, subledger.SummaryFilter{From: day("2025-07-31"), To: day("2025-07-01")})
	require.ErrorIs(t, err, fault.ErrValidation)
	_, err = f.reports.Summary(ctx, f.tenant, subledger.SummaryFilter{From: day("2025-07-01"), To: day("2025-07-31"), Role: "TRACTOR"})
	require.ErrorIs(t, err, fault.ErrValidation)
}

func TestCachedReportsFollowVersionBumps(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := subledger.NewCache(client, time.Minute)
	f := newFixture(t, cache)
	ctx := context.Background()

	f.receive(t, "GRN-1", "2025-07-01", "2025-07-15", "100")
	first, err := f.reports.Aging(ctx, f.tenant, subledger.SidePayable, day("2025-07-31"))
	require.NoError(t, err)
	require.Equal(t, "100.00", first.Total.StringFixed(2))

	quiet := ledger.NewService(f.store, nil, nil, nil, ledger.Config{})
	_, err = documents.NewService(f.store, quiet, nil, nil).Post(ctx,
		documents.Header{TenantID: f.tenant, PostingDate: day("2025-07-02")},
		documents.GoodsReceipt{Number: "GRN-2", SupplierID: f.supplier, ItemID: uuid.New(), Quantity: amt("1"), UnitCost: amt("20")})
	require.NoError(t, err)

	stale, err := f.reports.Aging(ctx, f.tenant, subledger.SidePayable, day("2025-07-31"))
	require.NoError(t, err)
	require.Equal(t, "100.00", stale.Total.StringFixed(2))

	f.receive(t, "GRN-3", "2025-07-03", "2025-07-15", "5")
	fresh, err := f.reports.Aging(ctx, f.tenant, subledger.SidePayable, day("2025-07-31"))
	require.NoError(t, err)
	require.Equal(t, "125.00", fresh.Total.StringFixed(2))

	ver, err := cache.Version(ctx, f.tenant)
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
}

func TestNilCacheBuildsUnversionedKeys(t *testing.T) {
	var cache *subledger.Cache
	tenant := uuid.New()
	key, err := cache.BuildKey(context.Background(), tenant, "aging", "PAYABLE")
	require.NoError(t, err)
	require.Equal(t, "subledger:"+tenant.String()+":aging:PAYABLE", key)
	require.NoError(t, cache.Bump(context.Background(), tenant))
}
