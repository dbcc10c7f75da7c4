package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agriops/agriledger/internal/platform/httpx"
	"github.com/agriops/agriledger/internal/subledger"
)

// Exit codes returned by ReconcileCommand.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitResidual = 10
)

// Reconciler runs one subledger reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID uuid.UUID, side subledger.Side, asOf time.Time) (subledger.Reconciliation, error)
}

// ReconcileOptions configures a reconcile run.
type ReconcileOptions struct {
	TenantID   uuid.UUID
	AsOf       time.Time
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary is the JSON output of a reconcile run.
type ReconcileSummary struct {
	TenantID uuid.UUID         `json:"tenant_id"`
	AsOf     string            `json:"as_of"`
	Balanced bool              `json:"balanced"`
	Sides    []ReconcileResult `json:"sides"`
}

// ReconcileResult is one side of the summary.
type ReconcileResult struct {
	Side               subledger.Side `json:"side"`
	SubledgerOpenTotal string         `json:"subledger_open_total"`
	GLControlTotal     string         `json:"gl_control_total"`
	UnappliedTotal     string         `json:"unapplied_total"`
	Residual           string         `json:"residual"`
	Balanced           bool           `json:"balanced"`
}

// ParseReconcileFlags reads `--tenant`, `--as-of` and `--json` from args.
func ParseReconcileFlags(args []string, stderr io.Writer) (ReconcileOptions, error) {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	tenant := fs.String("tenant", "", "tenant id (uuid)")
	asOf := fs.String("as-of", "", "reconcile as of YYYY-MM-DD (default today)")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ReconcileOptions{}, err
	}
	opts := ReconcileOptions{JSONOutput: *jsonOut}
	id, err := uuid.Parse(*tenant)
	if err != nil {
		return opts, fmt.Errorf("--tenant must be a uuid")
	}
	opts.TenantID = id
	if opts.AsOf, err = httpx.Date(*asOf); err != nil {
		return opts, fmt.Errorf("--as-of must be YYYY-MM-DD")
	}
	return opts, nil
}

// ReconcileCommand reconciles payables and receivables concurrently and
// returns the process exit code.
func ReconcileCommand(ctx context.Context, svc Reconciler, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if svc == nil {
		fmt.Fprintln(opts.Stderr, "reconcile: no reconciler configured")
		return ExitError
	}

	sides := []subledger.Side{subledger.SidePayable, subledger.SideReceivable}
	results := make([]subledger.Reconciliation, len(sides))
	g, gctx := errgroup.WithContext(ctx)
	for i, side := range sides {
		g.Go(func() error {
			rec, err := svc.Reconcile(gctx, opts.TenantID, side, opts.AsOf)
			if err != nil {
				return fmt.Errorf("%s: %w", side, err)
			}
			results[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return ExitError
	}

	summary := ReconcileSummary{TenantID: opts.TenantID, Balanced: true}
	for _, rec := range results {
		summary.AsOf = rec.AsOf.Format(time.DateOnly)
		summary.Balanced = summary.Balanced && rec.Balanced
		summary.Sides = append(summary.Sides, ReconcileResult{
			Side:               rec.Side,
			SubledgerOpenTotal: httpx.Money(rec.SubledgerOpenTotal),
			GLControlTotal:     httpx.Money(rec.GLControlTotal),
			UnappliedTotal:     httpx.Money(rec.UnappliedTotal),
			Residual:           httpx.Money(rec.Residual),
			Balanced:           rec.Balanced,
		})
	}

	if err := render(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile: write output: %v\n", err)
		return ExitError
	}
	if !summary.Balanced {
		return ExitResidual
	}
	return ExitOK
}

func render(opts ReconcileOptions, summary ReconcileSummary) error {
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "SIDE\tSUBLEDGER\tGL\tUNAPPLIED\tRESIDUAL\t\n")
	for _, s := range summary.Sides {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", s.Side, s.SubledgerOpenTotal, s.GLControlTotal, s.UnappliedTotal, s.Residual)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !summary.Balanced {
		_, err := fmt.Fprintf(opts.Stdout, "residual found as of %s\n", summary.AsOf)
		return err
	}
	return nil
}

// ErrUsage reports a bad command line.
var ErrUsage = errors.New("usage: agriledger [serve|migrate|seed|reconcile] [flags]")
