package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by pgx.Tx, *pgx.Conn and *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Load reads a tenant's catalog through q.
func Load(ctx context.Context, q Querier, tenantID uuid.UUID) (*Catalog, error) {
	rows, err := q.Query(ctx, `SELECT id, tenant_id, code, name, type FROM accounts WHERE tenant_id=$1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("accounts: list accounts: %w", err)
	}
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type); err != nil {
			rows.Close()
			return nil, err
		}
		accounts = append(accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT role, account_id, side FROM account_roles WHERE tenant_id=$1 ORDER BY role`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("accounts: list roles: %w", err)
	}
	defer rows.Close()
	var bindings []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.Role, &b.AccountID, &b.Side); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewCatalog(tenantID, accounts, bindings)
}

// Seed writes accounts and bindings for a tenant. Existing codes and roles are
// left untouched.
func Seed(ctx context.Context, q Querier, tenantID uuid.UUID, accounts []Account, bindings []Binding) error {
	for _, a := range accounts {
		if _, err := q.Exec(ctx, `INSERT INTO accounts (id, tenant_id, code, name, type) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, code) DO NOTHING`, a.ID, tenantID, a.Code, a.Name, a.Type); err != nil {
			return fmt.Errorf("accounts: seed %s: %w", a.Code, err)
		}
	}
	for _, b := range bindings {
		if _, err := q.Exec(ctx, `INSERT INTO account_roles (tenant_id, role, account_id, side) VALUES ($1,$2,$3,$4)
ON CONFLICT (tenant_id, role) DO NOTHING`, tenantID, b.Role, b.AccountID, b.Side); err != nil {
			return fmt.Errorf("accounts: seed role %s: %w", b.Role, err)
		}
	}
	return nil
}
