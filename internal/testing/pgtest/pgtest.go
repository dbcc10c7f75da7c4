// Package pgtest starts a throwaway Postgres with the ledger schema applied.
// Tests using it are skipped unless AGRILEDGER_PG_INTEGRATION=1.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agriops/agriledger/internal/platform/db"
)

// EnvVar enables the integration tests.
const EnvVar = "AGRILEDGER_PG_INTEGRATION"

// Start returns a pool on a migrated database that lives for the test.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv(EnvVar) != "1" {
		t.Skipf("set %s=1 to run Postgres integration tests", EnvVar)
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("agriledger_test"),
		tcpostgres.WithUsername("agriledger"),
		tcpostgres.WithPassword("agriledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	changed, err := db.Migrate(dsn)
	require.NoError(t, err)
	require.True(t, changed, "fresh database should receive migrations")

	pool, err := db.New(ctx, dsn, 5)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
