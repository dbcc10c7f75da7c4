package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/subledger"
)

type stubReconciler struct {
	mu       sync.Mutex
	residual map[subledger.Side]decimal.Decimal
	fail     subledger.Side
	seen     []subledger.Side
}

func (s *stubReconciler) Reconcile(_ context.Context, _ uuid.UUID, side subledger.Side, asOf time.Time) (subledger.Reconciliation, error) {
	s.mu.Lock()
	s.seen = append(s.seen, side)
	s.mu.Unlock()
	if side == s.fail {
		return subledger.Reconciliation{}, errors.New("snapshot unavailable")
	}
	residual := s.residual[side]
	return subledger.Reconciliation{
		Side:               side,
		AsOf:               asOf,
		SubledgerOpenTotal: decimal.NewFromInt(100),
		GLControlTotal:     decimal.NewFromInt(100).Sub(residual),
		Residual:           residual,
		Balanced:           residual.Abs().LessThanOrEqual(subledger.Tolerance),
	}, nil
}

func options(jsonOut bool) (ReconcileOptions, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	return ReconcileOptions{
		TenantID:   uuid.New(),
		AsOf:       time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		JSONOutput: jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
	}, stdout, stderr
}

func TestReconcileCommandBalanced(t *testing.T) {
	svc := &stubReconciler{}
	opts, stdout, stderr := options(true)

	require.Equal(t, ExitOK, ReconcileCommand(context.Background(), svc, opts))
	require.Empty(t, stderr.String())
	require.ElementsMatch(t, []subledger.Side{subledger.SidePayable, subledger.SideReceivable}, svc.seen)

	var summary ReconcileSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.Balanced)
	require.Equal(t, "2025-06-30", summary.AsOf)
	require.Len(t, summary.Sides, 2)
	require.Equal(t, subledger.SidePayable, summary.Sides[0].Side)
	require.Equal(t, "100.00", summary.Sides[0].SubledgerOpenTotal)
	require.Equal(t, "0.00", summary.Sides[1].Residual)
}

func TestReconcileCommandResidual(t *testing.T) {
	svc := &stubReconciler{residual: map[subledger.Side]decimal.Decimal{
		subledger.SideReceivable: decimal.RequireFromString("3.50"),
	}}
	opts, stdout, _ := options(false)

	require.Equal(t, ExitResidual, ReconcileCommand(context.Background(), svc, opts))
	require.Contains(t, stdout.String(), "RECEIVABLE")
	require.Contains(t, stdout.String(), "3.50")
	require.Contains(t, stdout.String(), "residual found as of 2025-06-30")
}

func TestReconcileCommandError(t *testing.T) {
	svc := &stubReconciler{fail: subledger.SidePayable}
	opts, stdout, stderr := options(true)

	require.Equal(t, ExitError, ReconcileCommand(context.Background(), svc, opts))
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "PAYABLE: snapshot unavailable")
}

func TestParseReconcileFlags(t *testing.T) {
	tenant := uuid.New()
	stderr := new(bytes.Buffer)
	opts, err := ParseReconcileFlags([]string{"--tenant", tenant.String(), "--as-of", "2025-03-31", "--json"}, stderr)
	require.NoError(t, err)
	require.Equal(t, tenant, opts.TenantID)
	require.Equal(t, "2025-03-31", opts.AsOf.Format(time.DateOnly))
	require.True(t, opts.JSONOutput)

	opts, err = ParseReconcileFlags([]string{"--tenant", tenant.String()}, stderr)
	require.NoError(t, err)
	require.True(t, opts.AsOf.IsZero())

	_, err = ParseReconcileFlags([]string{"--tenant", "acme"}, stderr)
	require.Error(t, err)
	_, err = ParseReconcileFlags([]string{"--tenant", tenant.String(), "--as-of", "March"}, stderr)
	require.Error(t, err)
}

func TestSeedCommand(t *testing.T) {
	tenant := uuid.New()
	var got []accounts.Binding
	seed := func(_ context.Context, id uuid.UUID, accts []accounts.Account, bindings []accounts.Binding) error {
		require.Equal(t, tenant, id)
		require.Len(t, accts, len(bindings))
		got = bindings
		return nil
	}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	require.Equal(t, ExitOK, SeedCommand(context.Background(), seed, []string{"--tenant", tenant.String()}, stdout, stderr))
	require.NotEmpty(t, got)
	require.Contains(t, stdout.String(), tenant.String())

	require.Equal(t, ExitError, SeedCommand(context.Background(), seed, nil, stdout, stderr))
	require.Contains(t, stderr.String(), "--tenant must be a uuid")

	failing := func(context.Context, uuid.UUID, []accounts.Account, []accounts.Binding) error {
		return errors.New("duplicate key")
	}
	require.Equal(t, ExitError, SeedCommand(context.Background(), failing, []string{"--tenant", tenant.String()}, stdout, stderr))
}
