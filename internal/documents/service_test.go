package documents_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/documents"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/ledger/fault"
	"github.com/agriops/agriledger/internal/ledger/ledgertest"
	"github.com/agriops/agriledger/internal/subledger"
)

type fixture struct {
	store   *ledgertest.Store
	chart   ledgertest.Chart
	ledger  *ledger.Service
	reports *subledger.Service
	docs    *documents.Service
	tenant  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tenant := uuid.New()
	store := ledgertest.NewStore()
	chart := ledgertest.NewChart(tenant)
	store.AddCatalog(chart.Catalog)
	svc := ledger.NewService(store, nil, nil, nil, ledger.Config{})
	svc.WithNow(func() time.Time { return day("2025-06-30") })
	reports := subledger.NewService(store, nil, nil)
	reports.WithNow(func() time.Time { return day("2025-06-30") })
	return &fixture{
		store:   store,
		chart:   chart,
		ledger:  svc,
		reports: reports,
		docs:    documents.NewService(store, svc, reports, nil),
		tenant:  tenant,
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

func (f *fixture) header(date string) documents.Header {
	return documents.Header{TenantID: f.tenant, PostingDate: day(date), ActorID: "clerk"}
}

func (f *fixture) withDue(date, due string) documents.Header {
	h := f.header(date)
	d := day(due)
	h.DueDate = &d
	return h
}

func amounts(rows []ledger.AllocationRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Amount.StringFixed(2)
	}
	return out
}

func TestGoodsReceiptPostsStockAndPayable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplier, item := uuid.New(), uuid.New()

	group, err := f.docs.Post(ctx, f.header("2025-06-02"), documents.GoodsReceipt{
		Number: "GRN-1", SupplierID: supplier, ItemID: item, Quantity: amt("12"), UnitCost: amt("2.50"),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.SourceGoodsReceipt, group.SourceType)
	require.Len(t, group.Entries, 2)
	require.Len(t, group.Rows, 1)
	require.Equal(t, supplier, *group.Rows[0].PartyID)
	require.Equal(t, "30.00", group.Rows[0].Amount.StringFixed(2))

	bal := f.store.InventoryBalance(f.tenant, item)
	require.Equal(t, "12", bal.Quantity.String())
	require.Equal(t, "30.00", bal.Value.StringFixed(2))
}

func TestSaleRelievesStockAtCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, customer := uuid.New(), uuid.New()

	_, err := f.docs.Post(ctx, f.header("2025-06-02"), documents.GoodsReceipt{
		Number: "GRN-1", SupplierID: uuid.New(), ItemID: item, Quantity: amt("10"), UnitCost: amt("4"),
	})
	require.NoError(t, err)

	group, err := f.docs.Post(ctx, f.header("2025-06-05"), documents.Sale{
		Number: "INV-1", CustomerID: customer, ItemID: item, Quantity: amt("3"), UnitPrice: amt("7"), UnitCost: amt("4"),
	})
	require.NoError(t, err)
	require.Len(t, group.Entries, 4)
	require.Equal(t, "21.00", group.Rows[0].Amount.StringFixed(2))

	bal := f.store.InventoryBalance(f.tenant, item)
	require.Equal(t, "7", bal.Quantity.String())
	require.Equal(t, "28.00", bal.Value.StringFixed(2))

	_, err = f.docs.Post(ctx, f.header("2025-06-06"), documents.Sale{
		Number: "INV-2", CustomerID: customer, ItemID: item, Quantity: amt("8"), UnitPrice: amt("7"), UnitCost: amt("4"),
	})
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.Len(t, f.store.Groups(f.tenant), 2)
}

func TestHarvestSplitsPooledCostByYield(t *testing.T) {
	f := newFixture(t)
	north, south := uuid.New(), uuid.New()

	group, err := f.docs.Post(context.Background(), f.header("2025-06-10"), documents.Harvest{
		Number:     "HV-1",
		ItemID:     uuid.New(),
		PooledCost: amt("300.00"),
		Fields: []documents.FieldYield{
			{ProjectID: north, Quantity: amt("40")},
			{ProjectID: south, Quantity: amt("80")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"100.00", "200.00"}, amounts(group.Rows))
	require.Equal(t, north, *group.Rows[0].ProjectID)
	require.Equal(t, south, *group.Rows[1].ProjectID)
	require.Equal(t, allocation.ModeProportionalByQuantity, group.Rows[0].Type)
}

func TestMachineryChargeSpreadsByHours(t *testing.T) {
	f := newFixture(t)
	contractor := uuid.New()

	group, err := f.docs.Post(context.Background(), f.header("2025-06-11"), documents.MachineryCharge{
		Number:       "MC-1",
		ContractorID: contractor,
		Amount:       amt("100.00"),
		Usage: []documents.FieldHours{
			{ProjectID: uuid.New(), Hours: amt("1")},
			{ProjectID: uuid.New(), Hours: amt("1")},
			{ProjectID: uuid.New(), Hours: amt("1")},
		},
	})
	require.NoError(t, err)
	require.Len(t, group.Rows, 4)
	require.Equal(t, []string{"33.34", "33.33", "33.33", "100.00"}, amounts(group.Rows))
	require.Equal(t, contractor, *group.Rows[3].PartyID)
}

func TestCropSettlementSplitsByPercentage(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()

	group, err := f.docs.Post(context.Background(), f.header("2025-06-12"), documents.CropSettlement{
		Number: "CS-1",
		Amount: amt("1000.01"),
		Shares: []allocation.Share{{PartyID: &a, Percent: amt("60")}, {PartyID: &b, Percent: amt("40")}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"600.01", "400.00"}, amounts(group.Rows))
	require.Equal(t, f.chart.ID(accounts.RoleHari), group.Rows[0].AccountID)

	_, err = f.docs.Post(context.Background(), f.header("2025-06-12"), documents.CropSettlement{Number: "CS-2", Amount: amt("10")})
	require.ErrorIs(t, err, documents.ErrInvalidDocument)
}

func TestLeaseAccrualPostsOncePerMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := uuid.New()
	accrual := func(month string) documents.LeaseAccrual {
		return documents.LeaseAccrual{LeaseID: "LEASE-7", Month: day(month), Amount: amt("250"), LandlordID: &landlord}
	}

	may, err := f.docs.Post(ctx, f.header("2025-05-31"), accrual("2025-05-01"))
	require.NoError(t, err)
	require.Equal(t, "2025-05", may.IdempotencyKey)

	june, err := f.docs.Post(ctx, f.header("2025-06-30"), accrual("2025-06-01"))
	require.NoError(t, err)
	require.NotEqual(t, may.ID, june.ID)

	again, err := f.docs.Post(ctx, f.header("2025-06-30"), accrual("2025-06-01"))
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, june.ID, again.ID)
	require.Len(t, f.store.Groups(f.tenant), 2)
}

func TestAutoAppliedPaymentSettlesOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplier := uuid.New()
	receipt := func(number string) documents.GoodsReceipt {
		return documents.GoodsReceipt{Number: number, SupplierID: supplier, ItemID: uuid.New(), Quantity: amt("1"), UnitCost: amt("100")}
	}

	late, err := f.docs.Post(ctx, f.withDue("2025-06-01", "2025-06-30"), receipt("GRN-LATE"))
	require.NoError(t, err)
	early, err := f.docs.Post(ctx, f.withDue("2025-06-03", "2025-06-10"), receipt("GRN-EARLY"))
	require.NoError(t, err)

	pay, err := f.docs.Post(ctx, f.header("2025-06-15"), documents.Payment{
		Number: "PAY-1", Direction: documents.DirectionPaid, PartyID: supplier, Amount: amt("140"), AutoApply: true,
	})
	require.NoError(t, err)
	require.Len(t, pay.Settlements, 2)
	settled := map[uuid.UUID]string{}
	for _, s := range pay.Settlements {
		settled[s.DocumentGroupID] = s.Amount.StringFixed(2)
	}
	require.Equal(t, "100.00", settled[early.ID])
	require.Equal(t, "40.00", settled[late.ID])

	aging, err := f.reports.Aging(ctx, f.tenant, subledger.SidePayable, day("2025-06-30"))
	require.NoError(t, err)
	require.Equal(t, "60.00", aging.Total.StringFixed(2))
	require.Len(t, aging.Rows, 1)
	require.Equal(t, late.ID, aging.Rows[0].GroupID)

	rec, err := f.reports.Reconcile(ctx, f.tenant, subledger.SidePayable, day("2025-06-30"))
	require.NoError(t, err)
	require.True(t, rec.Balanced)
	require.Equal(t, "60.00", rec.GLControlTotal.StringFixed(2))
}

func TestExplicitCreditNoteApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer, item := uuid.New(), uuid.New()

	_, err := f.docs.Post(ctx, f.header("2025-06-01"), documents.GoodsReceipt{
		Number: "GRN-1", SupplierID: uuid.New(), ItemID: item, Quantity: amt("5"), UnitCost: amt("1"),
	})
	require.NoError(t, err)
	sale, err := f.docs.Post(ctx, f.header("2025-06-02"), documents.Sale{
		Number: "INV-1", CustomerID: customer, ItemID: item, Quantity: amt("5"), UnitPrice: amt("20"), UnitCost: amt("1"),
	})
	require.NoError(t, err)

	note, err := f.docs.Post(ctx, f.header("2025-06-04"), documents.CreditNote{
		Number:       "CN-1",
		CustomerID:   customer,
		Amount:       amt("30"),
		Applications: []documents.Application{{DocumentID: sale.ID, Amount: amt("30")}},
	})
	require.NoError(t, err)
	require.Len(t, note.Settlements, 1)

	_, err = f.docs.Post(ctx, f.header("2025-06-05"), documents.CreditNote{
		Number:       "CN-2",
		CustomerID:   customer,
		Amount:       amt("80"),
		Applications: []documents.Application{{DocumentID: sale.ID, Amount: amt("80")}},
	})
	require.ErrorIs(t, err, ledger.ErrExceedsOutstanding)
}

func TestDecoderValidatesPayloads(t *testing.T) {
	dec := documents.NewDecoder()
	party := uuid.New()

	doc, err := dec.Decode("payment", json.RawMessage(`{"number":"PAY-9","direction":"RECEIVED","party_id":"`+party.String()+`","amount":"12.50","auto_apply":true}`))
	require.NoError(t, err)
	pay, ok := doc.(*documents.Payment)
	require.True(t, ok)
	require.Equal(t, party, pay.PartyID)
	require.Equal(t, "12.50", pay.Amount.StringFixed(2))
	_, settles := doc.(documents.Settler)
	require.True(t, settles)

	cases := map[string]struct {
		kind ledger.SourceType
		raw  string
	}{
		"unknown kind":     {kind: "BARTER", raw: `{}`},
		"unknown field":    {kind: ledger.SourceSale, raw: `{"number":"S","colour":"red"}`},
		"missing number":   {kind: ledger.SourceCreditNote, raw: `{"customer_id":"` + party.String() + `","amount":"1"}`},
		"bad direction":    {kind: ledger.SourcePayment, raw: `{"number":"P","direction":"LENT","party_id":"` + party.String() + `","amount":"1"}`},
		"harvest no field": {kind: ledger.SourceHarvest, raw: `{"number":"H","item_id":"` + party.String() + `","pooled_cost":"1","fields":[]}`},
		"malformed":        {kind: ledger.SourceSale, raw: `{"number":`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := dec.Decode(tc.kind, json.RawMessage(tc.raw))
			require.ErrorIs(t, err, documents.ErrInvalidDocument)
			require.ErrorIs(t, err, fault.ErrValidation)
		})
	}
}
