// Package accounts exposes a tenant's chart of accounts as an immutable,
// per-scope lookup together with the role bindings that name control accounts.
package accounts

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/ledger/fault"
)

// Type enumerates chart of accounts categories.
type Type string

const (
	TypeAsset     Type = "ASSET"
	TypeLiability Type = "LIABILITY"
	TypeEquity    Type = "EQUITY"
	TypeRevenue   Type = "REVENUE"
	TypeExpense   Type = "EXPENSE"
)

// DebitNormal reports whether balances of this type grow with debits.
func (t Type) DebitNormal() bool {
	return t == TypeAsset || t == TypeExpense
}

// Valid reports whether t is a known account type.
func (t Type) Valid() bool {
	switch t {
	case TypeAsset, TypeLiability, TypeEquity, TypeRevenue, TypeExpense:
		return true
	}
	return false
}

// Side tells which subledger a role-bound account controls.
type Side string

const (
	SidePayable    Side = "PAYABLE"
	SideReceivable Side = "RECEIVABLE"
	SideNone       Side = "NONE"
)

// Role names an account binding that documents refer to instead of codes.
type Role string

const (
	RoleAP               Role = "AP"
	RoleAR               Role = "AR"
	RoleHari             Role = "HARI"
	RoleLandlord         Role = "LANDLORD"
	RoleInventory        Role = "INVENTORY"
	RoleCash             Role = "CASH"
	RoleSalesRevenue     Role = "SALES_REVENUE"
	RoleCOGS             Role = "COGS"
	RoleSalesReturns     Role = "SALES_RETURNS"
	RoleCropWIP          Role = "CROP_WIP"
	RoleCropShareExpense Role = "CROP_SHARE_EXPENSE"
	RoleMachineryExpense Role = "MACHINERY_EXPENSE"
	RoleLeaseExpense     Role = "LAND_LEASE_EXPENSE"
)

// Account is a chart of accounts node.
type Account struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Code     string
	Name     string
	Type     Type
}

// Binding maps a role to one of the tenant's accounts.
type Binding struct {
	Role      Role
	AccountID uuid.UUID
	Side      Side
}

// Control reports whether the binding designates a subledger control account.
func (b Binding) Control() bool {
	return b.Side == SidePayable || b.Side == SideReceivable
}

// RoleResolver turns a role into the account bound to it.
type RoleResolver interface {
	Resolve(role Role) (Account, error)
}

var (
	// ErrUnknownAccount indicates an account id outside the tenant catalog.
	ErrUnknownAccount = fault.New(fault.KindValidation, "accounts: account not in tenant catalog")
	// ErrUnboundRole indicates a role without an account binding.
	ErrUnboundRole = fault.New(fault.KindValidation, "accounts: role has no account binding")
)

// Catalog is a read-only snapshot of one tenant's accounts and role bindings.
// It is loaded once per transaction scope and never mutated afterwards.
type Catalog struct {
	tenantID uuid.UUID
	accounts map[uuid.UUID]Account
	byCode   map[string]uuid.UUID
	roles    map[Role]Binding
	byAcct   map[uuid.UUID]Binding
}

// NewCatalog validates and indexes the supplied accounts and bindings.
func NewCatalog(tenantID uuid.UUID, accounts []Account, bindings []Binding) (*Catalog, error) {
	c := &Catalog{
		tenantID: tenantID,
		accounts: make(map[uuid.UUID]Account, len(accounts)),
		byCode:   make(map[string]uuid.UUID, len(accounts)),
		roles:    make(map[Role]Binding, len(bindings)),
		byAcct:   make(map[uuid.UUID]Binding, len(bindings)),
	}
	for _, a := range accounts {
		if a.TenantID != tenantID {
			return nil, fmt.Errorf("accounts: account %s belongs to tenant %s", a.Code, a.TenantID)
		}
		if !a.Type.Valid() {
			return nil, fmt.Errorf("accounts: account %s has invalid type %q", a.Code, a.Type)
		}
		c.accounts[a.ID] = a
		c.byCode[a.Code] = a.ID
	}
	for _, b := range bindings {
		if _, ok := c.accounts[b.AccountID]; !ok {
			return nil, fmt.Errorf("accounts: role %s bound to unknown account %s", b.Role, b.AccountID)
		}
		if b.Side == "" {
			b.Side = SideNone
		}
		if prev, ok := c.byAcct[b.AccountID]; ok && prev.Control() && b.Control() && prev.Side != b.Side {
			return nil, fmt.Errorf("accounts: account %s controls both %s and %s", b.AccountID, prev.Side, b.Side)
		}
		c.roles[b.Role] = b
		if prev, ok := c.byAcct[b.AccountID]; !ok || !prev.Control() {
			c.byAcct[b.AccountID] = b
		}
	}
	return c, nil
}

// TenantID returns the owning tenant.
func (c *Catalog) TenantID() uuid.UUID {
	return c.tenantID
}

// Account looks up an account by id.
func (c *Catalog) Account(id uuid.UUID) (Account, error) {
	a, ok := c.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return a, nil
}

// ByCode looks up an account by its code.
func (c *Catalog) ByCode(code string) (Account, error) {
	id, ok := c.byCode[code]
	if !ok {
		return Account{}, fmt.Errorf("%w: code %s", ErrUnknownAccount, code)
	}
	return c.accounts[id], nil
}

// Resolve implements RoleResolver.
func (c *Catalog) Resolve(role Role) (Account, error) {
	b, ok := c.roles[role]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnboundRole, role)
	}
	return c.accounts[b.AccountID], nil
}

// BindingOf returns the role binding of an account, preferring control bindings.
func (c *Catalog) BindingOf(accountID uuid.UUID) (Binding, bool) {
	b, ok := c.byAcct[accountID]
	return b, ok
}

// Binding returns the binding for role.
func (c *Catalog) Binding(role Role) (Binding, bool) {
	b, ok := c.roles[role]
	return b, ok
}

// Bindings lists every role binding ordered by role.
func (c *Catalog) Bindings() []Binding {
	out := make([]Binding, 0, len(c.roles))
	for _, b := range c.roles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// IsControl reports whether the account is a payable or receivable control account.
func (c *Catalog) IsControl(accountID uuid.UUID) bool {
	b, ok := c.byAcct[accountID]
	return ok && b.Control()
}

// ControlAccounts lists the control accounts for a side, ordered by code.
func (c *Catalog) ControlAccounts(side Side) []uuid.UUID {
	var ids []uuid.UUID
	for id, b := range c.byAcct {
		if b.Control() && b.Side == side {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return c.accounts[ids[i]].Code < c.accounts[ids[j]].Code
	})
	return ids
}

// NaturalNet converts debit and credit totals into a signed amount that is
// positive in the account's natural direction.
func (c *Catalog) NaturalNet(accountID uuid.UUID, debit, credit decimal.Decimal) decimal.Decimal {
	if a, ok := c.accounts[accountID]; ok && !a.Type.DebitNormal() {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// DebitMinusCredit converts a natural signed amount back to debit minus credit.
func (c *Catalog) DebitMinusCredit(accountID uuid.UUID, natural decimal.Decimal) decimal.Decimal {
	if a, ok := c.accounts[accountID]; ok && !a.Type.DebitNormal() {
		return natural.Neg()
	}
	return natural
}
