package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/ledger/accounts"
)

var hundred = decimal.NewFromInt(100)

// Request carries one instruction with its resolved pool.
type Request struct {
	TenantID    uuid.UUID
	On          time.Time
	Account     accounts.Account
	Pool        decimal.Decimal
	Instruction Instruction
}

// Calculator computes allocation rows.
type Calculator struct {
	rules RuleSource
}

// NewCalculator constructs a Calculator. rules may be nil when rule based
// splits are not used.
func NewCalculator(rules RuleSource) *Calculator {
	return &Calculator{rules: rules}
}

// Allocate splits req.Pool according to the instruction. The rows always sum
// exactly to the pool.
func (c *Calculator) Allocate(ctx context.Context, req Request) (Allocation, error) {
	in := req.Instruction
	if req.Pool.IsZero() {
		return Allocation{}, fmt.Errorf("%w: pool on account %s is zero", ErrInvalidInstruction, req.Account.Code)
	}
	if !req.Pool.Equal(req.Pool.Round(2)) {
		return Allocation{}, fmt.Errorf("%w: pool %s has more than 2 decimals", ErrInvalidInstruction, req.Pool)
	}
	snap := Snapshot{
		Mode:      in.Mode,
		AccountID: req.Account.ID,
		Role:      in.Role,
		Pool:      req.Pool.StringFixed(2),
	}

	var shares []Share
	var weights []decimal.Decimal
	switch in.Mode {
	case ModeFullParty:
		if in.PartyID == nil {
			return Allocation{}, fmt.Errorf("%w: FULL_PARTY requires a party", ErrInvalidInstruction)
		}
		shares = []Share{{PartyID: in.PartyID, ProjectID: in.ProjectID, Percent: hundred}}
		weights = []decimal.Decimal{hundred}
	case ModeSharedByPercentage:
		var err error
		if shares, weights, err = percentShares(in.Shares, in.ProjectID); err != nil {
			return Allocation{}, err
		}
	case ModeSharedByRule:
		if in.RuleID == nil {
			return Allocation{}, fmt.Errorf("%w: SHARED_BY_RULE requires a rule", ErrInvalidInstruction)
		}
		if c.rules == nil {
			return Allocation{}, fmt.Errorf("%w: no rule source configured", ErrRuleNotFound)
		}
		rule, err := c.rules.EffectiveRule(ctx, req.TenantID, *in.RuleID, req.On)
		if err != nil {
			return Allocation{}, err
		}
		if shares, weights, err = percentShares(rule.Shares, in.ProjectID); err != nil {
			return Allocation{}, err
		}
		snap.RuleID = &rule.ID
		snap.RuleVersion = rule.Version
	case ModeProportionalByQuantity:
		var err error
		if shares, weights, err = quantityShares(in.Shares, in.PartyID, in.ProjectID); err != nil {
			return Allocation{}, err
		}
	default:
		return Allocation{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidInstruction, in.Mode)
	}

	amounts := Split(req.Pool, weights)
	out := Allocation{Rows: make([]Row, len(shares))}
	snap.Shares = make([]SnapshotShare, len(shares))
	for i, sh := range shares {
		out.Rows[i] = Row{
			AccountID: req.Account.ID,
			PartyID:   sh.PartyID,
			ProjectID: sh.ProjectID,
			Mode:      in.Mode,
			Amount:    amounts[i],
		}
		frozen := SnapshotShare{PartyID: sh.PartyID, ProjectID: sh.ProjectID, Amount: amounts[i].StringFixed(2)}
		if in.Mode == ModeProportionalByQuantity {
			frozen.Quantity = sh.Quantity.String()
		} else {
			frozen.Percent = sh.Percent.String()
		}
		snap.Shares[i] = frozen
	}
	raw, err := snap.Canonical()
	if err != nil {
		return Allocation{}, fmt.Errorf("allocation: encode snapshot: %w", err)
	}
	hash, err := snap.Hash()
	if err != nil {
		return Allocation{}, fmt.Errorf("allocation: hash snapshot: %w", err)
	}
	if in.ApprovedSnapshotHash != "" && in.ApprovedSnapshotHash != hash {
		return Allocation{}, fmt.Errorf("%w: account %s", ErrSnapshotTampered, req.Account.Code)
	}
	out.Snapshot = snap
	out.Raw = raw
	out.Hash = hash
	return out, nil
}

func percentShares(in []Share, defaultProject *uuid.UUID) ([]Share, []decimal.Decimal, error) {
	if len(in) == 0 {
		return nil, nil, fmt.Errorf("%w: no shares supplied", ErrInvalidInstruction)
	}
	total := decimal.Zero
	shares := make([]Share, len(in))
	weights := make([]decimal.Decimal, len(in))
	for i, sh := range in {
		if sh.PartyID == nil {
			return nil, nil, fmt.Errorf("%w: share %d has no party", ErrInvalidInstruction, i)
		}
		if !sh.Percent.IsPositive() {
			return nil, nil, fmt.Errorf("%w: share %d percent %s", ErrPercentTotal, i, sh.Percent)
		}
		if sh.ProjectID == nil {
			sh.ProjectID = defaultProject
		}
		total = total.Add(sh.Percent)
		shares[i] = sh
		weights[i] = sh.Percent
	}
	if !total.Equal(hundred) {
		return nil, nil, fmt.Errorf("%w: got %s", ErrPercentTotal, total)
	}
	return shares, weights, nil
}

func quantityShares(in []Share, defaultParty, defaultProject *uuid.UUID) ([]Share, []decimal.Decimal, error) {
	if len(in) == 0 {
		return nil, nil, fmt.Errorf("%w: no lines supplied", ErrInvalidInstruction)
	}
	total := decimal.Zero
	shares := make([]Share, len(in))
	weights := make([]decimal.Decimal, len(in))
	for i, sh := range in {
		if !sh.Quantity.IsPositive() {
			return nil, nil, fmt.Errorf("%w: line %d quantity %s", ErrNonPositiveQuantity, i, sh.Quantity)
		}
		if sh.PartyID == nil {
			sh.PartyID = defaultParty
		}
		if sh.ProjectID == nil {
			sh.ProjectID = defaultProject
		}
		if sh.PartyID == nil && sh.ProjectID == nil {
			return nil, nil, fmt.Errorf("%w: line %d has neither party nor project", ErrInvalidInstruction, i)
		}
		total = total.Add(sh.Quantity)
		shares[i] = sh
		weights[i] = sh.Quantity
	}
	if !total.IsPositive() {
		return nil, nil, ErrNonPositiveQuantity
	}
	return shares, weights, nil
}

// Split divides a 2-decimal pool by positive weights. Each part is floored to
// the cent and leftover cents go to the largest remainders, ties resolved by
// input order. Signs follow the pool.
func Split(pool decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return out
	}
	total := decimal.Zero
	for _, w := range weights {
		total = total.Add(w)
	}
	cents := pool.Abs().Shift(2).Truncate(0)

	type remainder struct {
		idx int
		rem decimal.Decimal
	}
	rems := make([]remainder, len(weights))
	allotted := decimal.Zero
	for i, w := range weights {
		q, r := cents.Mul(w).QuoRem(total, 0)
		out[i] = q
		rems[i] = remainder{idx: i, rem: r}
		allotted = allotted.Add(q)
	}
	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].rem.GreaterThan(rems[b].rem)
	})
	left := cents.Sub(allotted).IntPart()
	for k := int64(0); k < left; k++ {
		i := rems[k%int64(len(rems))].idx
		out[i] = out[i].Add(decimal.NewFromInt(1))
	}
	for i := range out {
		out[i] = out[i].Shift(-2)
		if pool.IsNegative() {
			out[i] = out[i].Neg()
		}
	}
	return out
}
