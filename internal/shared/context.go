package shared

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/platform/httpx"
)

// TenantHeader carries the tenant on every ledger request.
const TenantHeader = "X-Tenant-ID"

// ActorHeader optionally names the caller for audit records.
const ActorHeader = "X-Actor-ID"

type tenantContextKey struct{}

type actorContextKey struct{}

// ContextWithTenant stores the tenant in context.
func ContextWithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext extracts the tenant from context.
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantContextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// ActorFromContext returns the caller recorded by RequireTenant.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}

// RequireTenant rejects requests without a valid tenant header.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := uuid.Parse(r.Header.Get(TenantHeader))
		if err != nil || tenantID == uuid.Nil {
			httpx.RespondError(w, httpx.ErrNoTenant)
			return
		}
		ctx := ContextWithTenant(r.Context(), tenantID)
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = context.WithValue(ctx, actorContextKey{}, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
