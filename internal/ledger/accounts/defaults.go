package accounts

import "github.com/google/uuid"

var defaultChart = []struct {
	role Role
	code string
	name string
	typ  Type
	side Side
}{
	{RoleCash, "1000", "Cash on hand", TypeAsset, SideNone},
	{RoleAR, "1100", "Trade receivables", TypeAsset, SideReceivable},
	{RoleInventory, "1200", "Produce and input inventory", TypeAsset, SideNone},
	{RoleCropWIP, "1300", "Crop work in progress", TypeAsset, SideNone},
	{RoleAP, "2000", "Trade payables", TypeLiability, SidePayable},
	{RoleHari, "2100", "Hari payables", TypeLiability, SidePayable},
	{RoleLandlord, "2200", "Landlord payables", TypeLiability, SidePayable},
	{RoleSalesRevenue, "4000", "Produce sales", TypeRevenue, SideNone},
	{RoleSalesReturns, "4100", "Sales returns", TypeRevenue, SideNone},
	{RoleCOGS, "5000", "Cost of produce sold", TypeExpense, SideNone},
	{RoleCropShareExpense, "5100", "Crop share expense", TypeExpense, SideNone},
	{RoleMachineryExpense, "5200", "Machinery hire", TypeExpense, SideNone},
	{RoleLeaseExpense, "5300", "Land lease", TypeExpense, SideNone},
}

// DefaultChart returns a starter farm chart with every built-in role bound,
// using fresh account ids.
func DefaultChart(tenantID uuid.UUID) ([]Account, []Binding) {
	accts := make([]Account, 0, len(defaultChart))
	bindings := make([]Binding, 0, len(defaultChart))
	for _, d := range defaultChart {
		id := uuid.New()
		accts = append(accts, Account{ID: id, TenantID: tenantID, Code: d.code, Name: d.name, Type: d.typ})
		bindings = append(bindings, Binding{Role: d.role, AccountID: id, Side: d.side})
	}
	return accts, bindings
}
