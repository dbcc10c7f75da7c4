package ledgertest

import (
	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/ledger/accounts"
)

// Chart wraps the default chart of one tenant for test lookups.
type Chart struct {
	TenantID uuid.UUID
	Catalog  *accounts.Catalog
	Accounts []accounts.Account
	Bindings []accounts.Binding
}

// NewChart builds the default chart for tenantID and panics if it is invalid.
func NewChart(tenantID uuid.UUID) Chart {
	accts, bindings := accounts.DefaultChart(tenantID)
	cat, err := accounts.NewCatalog(tenantID, accts, bindings)
	if err != nil {
		panic(err)
	}
	return Chart{TenantID: tenantID, Catalog: cat, Accounts: accts, Bindings: bindings}
}

// ID returns the account bound to role.
func (c Chart) ID(role accounts.Role) uuid.UUID {
	a, err := c.Catalog.Resolve(role)
	if err != nil {
		panic(err)
	}
	return a.ID
}
