package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/ledger/accounts"
)

// ChartSeeder stores a chart of accounts and its role bindings.
type ChartSeeder func(ctx context.Context, tenantID uuid.UUID, accts []accounts.Account, bindings []accounts.Binding) error

// SeedCommand installs the default farm chart for the tenant named in args
// and returns the process exit code.
func SeedCommand(ctx context.Context, seed ChartSeeder, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	tenant := fs.String("tenant", "", "tenant id (uuid)")
	if err := fs.Parse(args); err != nil {
		return ExitError
	}
	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		fmt.Fprintln(stderr, "seed: --tenant must be a uuid")
		return ExitError
	}
	accts, bindings := accounts.DefaultChart(tenantID)
	if err := seed(ctx, tenantID, accts, bindings); err != nil {
		fmt.Fprintf(stderr, "seed: %v\n", err)
		return ExitError
	}
	fmt.Fprintf(stdout, "seeded %d accounts and %d roles for tenant %s\n", len(accts), len(bindings), tenantID)
	return ExitOK
}
