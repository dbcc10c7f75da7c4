package accounts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/ledger/fault"
)

func testCatalog(t *testing.T) (*Catalog, map[string]uuid.UUID) {
	t.Helper()
	tenant := uuid.New()
	ids := map[string]uuid.UUID{
		"1100": uuid.New(),
		"1300": uuid.New(),
		"2100": uuid.New(),
		"2150": uuid.New(),
		"1200": uuid.New(),
	}
	accts := []Account{
		{ID: ids["1100"], TenantID: tenant, Code: "1100", Name: "Cash", Type: TypeAsset},
		{ID: ids["1200"], TenantID: tenant, Code: "1200", Name: "Receivables", Type: TypeAsset},
		{ID: ids["1300"], TenantID: tenant, Code: "1300", Name: "Inventory", Type: TypeAsset},
		{ID: ids["2100"], TenantID: tenant, Code: "2100", Name: "Payables", Type: TypeLiability},
		{ID: ids["2150"], TenantID: tenant, Code: "2150", Name: "Hari payables", Type: TypeLiability},
	}
	bindings := []Binding{
		{Role: RoleCash, AccountID: ids["1100"], Side: SideNone},
		{Role: RoleAR, AccountID: ids["1200"], Side: SideReceivable},
		{Role: RoleInventory, AccountID: ids["1300"]},
		{Role: RoleAP, AccountID: ids["2100"], Side: SidePayable},
		{Role: RoleHari, AccountID: ids["2150"], Side: SidePayable},
	}
	cat, err := NewCatalog(tenant, accts, bindings)
	require.NoError(t, err)
	return cat, ids
}

func TestCatalogResolvesRolesAndControls(t *testing.T) {
	cat, ids := testCatalog(t)

	ap, err := cat.Resolve(RoleAP)
	require.NoError(t, err)
	require.Equal(t, ids["2100"], ap.ID)

	_, err = cat.Resolve(RoleLandlord)
	require.ErrorIs(t, err, ErrUnboundRole)
	require.ErrorIs(t, err, fault.ErrValidation)

	require.True(t, cat.IsControl(ids["2100"]))
	require.False(t, cat.IsControl(ids["1300"]))
	require.Equal(t, []uuid.UUID{ids["2100"], ids["2150"]}, cat.ControlAccounts(SidePayable))
	require.Equal(t, []uuid.UUID{ids["1200"]}, cat.ControlAccounts(SideReceivable))

	_, err = cat.Account(uuid.New())
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestNaturalNetFollowsAccountType(t *testing.T) {
	cat, ids := testCatalog(t)
	hundred := decimal.RequireFromString("100")
	forty := decimal.RequireFromString("40")

	require.True(t, cat.NaturalNet(ids["2100"], forty, hundred).Equal(decimal.RequireFromString("60")))
	require.True(t, cat.NaturalNet(ids["1300"], hundred, forty).Equal(decimal.RequireFromString("60")))
	require.True(t, cat.DebitMinusCredit(ids["2100"], decimal.RequireFromString("60")).Equal(decimal.RequireFromString("-60")))
}

func TestNewCatalogRejectsForeignAccounts(t *testing.T) {
	_, err := NewCatalog(uuid.New(), []Account{{ID: uuid.New(), TenantID: uuid.New(), Code: "1", Type: TypeAsset}}, nil)
	require.Error(t, err)
}
