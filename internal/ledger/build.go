package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/ledger/periods"
)

// build checks every gate and computes the full group without writing.
func (s *Service) build(ctx context.Context, tx TxRepository, req PostingRequest) (PostingGroup, error) {
	cat, err := tx.LoadCatalog(ctx, req.TenantID)
	if err != nil {
		return PostingGroup{}, err
	}
	for i, l := range req.Lines {
		if _, err := cat.Account(l.AccountID); err != nil {
			return PostingGroup{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	lock := periods.NewLock(tx)
	if _, err := lock.EnsureOpen(ctx, req.TenantID, req.PostingDate); err != nil {
		return PostingGroup{}, err
	}
	if err := lock.EnsureCycle(ctx, req.TenantID, req.CropCycleID, req.PostingDate); err != nil {
		return PostingGroup{}, err
	}

	g := PostingGroup{
		ID:             uuid.New(),
		TenantID:       req.TenantID,
		CropCycleID:    req.CropCycleID,
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
		PostingDate:    req.PostingDate,
		DueDate:        req.DueDate,
		IdempotencyKey: req.IdempotencyKey,
		Currency:       req.Currency,
		CreatedAt:      s.now().UTC(),
		Movements:      req.Movements,
	}
	g.Entries = make([]LedgerEntry, len(req.Lines))
	for i, l := range req.Lines {
		g.Entries[i] = LedgerEntry{
			ID:             uuid.New(),
			TenantID:       g.TenantID,
			PostingGroupID: g.ID,
			AccountID:      l.AccountID,
			Debit:          l.Debit,
			Credit:         l.Credit,
			Currency:       g.Currency,
			Memo:           l.Memo,
		}
	}
	if err := checkBalanced(g.Entries); err != nil {
		return PostingGroup{}, err
	}
	if g.Rows, err = allocate(ctx, allocation.NewCalculator(tx), cat, g, req.Allocations); err != nil {
		return PostingGroup{}, err
	}
	if err := checkCoverage(cat, g.Entries, g.Rows); err != nil {
		return PostingGroup{}, err
	}
	if g.Settlements, err = settle(ctx, tx, cat, g, req.Settlements); err != nil {
		return PostingGroup{}, err
	}
	return g, nil
}

func linesAsEntries(lines []Line) []LedgerEntry {
	out := make([]LedgerEntry, len(lines))
	for i, l := range lines {
		out[i] = LedgerEntry{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit}
	}
	return out
}

func checkBalanced(entries []LedgerEntry) error {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	if debit.IsZero() {
		return fmt.Errorf("%w: zero value posting", ErrInvalidLine)
	}
	return nil
}

func accountTotals(entries []LedgerEntry, accountID uuid.UUID) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.AccountID == accountID {
			debit = debit.Add(e.Debit)
			credit = credit.Add(e.Credit)
		}
	}
	return debit, credit
}

func allocate(ctx context.Context, calc *allocation.Calculator, cat *accounts.Catalog, g PostingGroup, instructions []allocation.Instruction) ([]AllocationRow, error) {
	var rows []AllocationRow
	seen := make(map[uuid.UUID]bool, len(instructions))
	for i, in := range instructions {
		acct, err := poolAccount(cat, in)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i+1, err)
		}
		if seen[acct.ID] {
			return nil, fmt.Errorf("%w: allocation %d repeats account %s", ErrInvalidRequest, i+1, acct.Code)
		}
		seen[acct.ID] = true
		if in.Role == "" {
			if b, ok := cat.BindingOf(acct.ID); ok {
				in.Role = b.Role
			}
		}
		debit, credit := accountTotals(g.Entries, acct.ID)
		pool := cat.NaturalNet(acct.ID, debit, credit)
		result, err := calc.Allocate(ctx, allocation.Request{
			TenantID:    g.TenantID,
			On:          g.PostingDate,
			Account:     acct,
			Pool:        pool,
			Instruction: in,
		})
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i+1, err)
		}
		sum := decimal.Zero
		for _, r := range result.Rows {
			sum = sum.Add(r.Amount)
			rows = append(rows, AllocationRow{
				ID:             uuid.New(),
				TenantID:       g.TenantID,
				PostingGroupID: g.ID,
				AccountID:      r.AccountID,
				PartyID:        r.PartyID,
				ProjectID:      r.ProjectID,
				Type:           r.Mode,
				Amount:         r.Amount,
				RuleSnapshot:   result.Raw,
			})
		}
		if !sum.Equal(pool) {
			return nil, fmt.Errorf("%w: account %s rows %s pool %s", ErrAllocationDrift, acct.Code, sum, pool)
		}
	}
	return rows, nil
}

func poolAccount(cat *accounts.Catalog, in allocation.Instruction) (accounts.Account, error) {
	if in.AccountID != uuid.Nil {
		return cat.Account(in.AccountID)
	}
	return cat.Resolve(in.Role)
}

// checkCoverage requires every control account movement to be attributed.
func checkCoverage(cat *accounts.Catalog, entries []LedgerEntry, rows []AllocationRow) error {
	attributed := make(map[uuid.UUID]bool)
	for _, r := range rows {
		if r.PartyID != nil {
			attributed[r.AccountID] = true
		}
	}
	checked := make(map[uuid.UUID]bool)
	for _, e := range entries {
		if checked[e.AccountID] || !cat.IsControl(e.AccountID) {
			continue
		}
		checked[e.AccountID] = true
		debit, credit := accountTotals(entries, e.AccountID)
		if debit.Equal(credit) {
			continue
		}
		if !attributed[e.AccountID] {
			acct, _ := cat.Account(e.AccountID)
			return fmt.Errorf("%w: account %s", ErrUnattributedControl, acct.Code)
		}
	}
	for _, r := range rows {
		if cat.IsControl(r.AccountID) && r.PartyID == nil {
			acct, _ := cat.Account(r.AccountID)
			return fmt.Errorf("%w: account %s row without party", ErrUnattributedControl, acct.Code)
		}
	}
	return nil
}

type partyAccount struct {
	party   uuid.UUID
	account uuid.UUID
}

type docPartyAccount struct {
	doc uuid.UUID
	partyAccount
}

// settle validates settlement inputs against the instrument's own rows and
// against each document's current open balance. Documents are row locked.
func settle(ctx context.Context, tx TxRepository, cat *accounts.Catalog, g PostingGroup, inputs []SettlementInput) ([]Settlement, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if !g.SourceType.Instrument() {
		return nil, fmt.Errorf("%w: %s", ErrNotInstrument, g.SourceType)
	}
	capacity := make(map[partyAccount]decimal.Decimal)
	for _, r := range g.Rows {
		if r.PartyID == nil {
			continue
		}
		k := partyAccount{party: *r.PartyID, account: r.AccountID}
		capacity[k] = capacity[k].Sub(r.Amount)
	}
	used := make(map[partyAccount]decimal.Decimal)
	pending := make(map[docPartyAccount]decimal.Decimal)
	out := make([]Settlement, 0, len(inputs))
	for i, in := range inputs {
		if !cat.IsControl(in.AccountID) {
			return nil, fmt.Errorf("%w: settlement %d account is not a control account", ErrInvalidRequest, i+1)
		}
		k := partyAccount{party: in.PartyID, account: in.AccountID}
		used[k] = used[k].Add(in.Amount)
		if used[k].GreaterThan(capacity[k]) {
			return nil, fmt.Errorf("%w: %s applied, %s available", ErrExceedsInstrument, used[k].StringFixed(2), capacity[k].StringFixed(2))
		}

		doc, err := tx.LockGroup(ctx, g.TenantID, in.DocumentGroupID)
		if err != nil {
			if errors.Is(err, ErrPostingNotFound) {
				return nil, fmt.Errorf("%w: settlement %d: %s", ErrInvalidDocument, i+1, in.DocumentGroupID)
			}
			return nil, err
		}
		if !doc.SourceType.Document() {
			return nil, fmt.Errorf("%w: settlement %d targets %s", ErrInvalidDocument, i+1, doc.SourceType)
		}
		if !doc.Active() {
			return nil, fmt.Errorf("%w: %s", ErrDocumentReversed, doc.ID)
		}
		if doc.PostingDate.After(g.PostingDate) {
			return nil, fmt.Errorf("%w: settlement %d document dated after instrument", ErrInvalidDocument, i+1)
		}
		pos, err := tx.DocumentPosition(ctx, g.TenantID, doc.ID, in.PartyID, in.AccountID)
		if err != nil {
			return nil, err
		}
		if !pos.Face.IsPositive() {
			return nil, fmt.Errorf("%w: settlement %d document has no balance for party", ErrInvalidDocument, i+1)
		}
		dk := docPartyAccount{doc: doc.ID, partyAccount: k}
		open := pos.Face.Sub(pos.Settled).Sub(pending[dk])
		if in.Amount.GreaterThan(open) {
			return nil, fmt.Errorf("%w: %s requested, %s open", ErrExceedsOutstanding, in.Amount.StringFixed(2), open.StringFixed(2))
		}
		pending[dk] = pending[dk].Add(in.Amount)
		out = append(out, Settlement{
			ID:                uuid.New(),
			TenantID:          g.TenantID,
			InstrumentGroupID: g.ID,
			DocumentGroupID:   doc.ID,
			PartyID:           in.PartyID,
			AccountID:         in.AccountID,
			Amount:            in.Amount,
			AllocationDate:    g.PostingDate,
			Status:            SettlementActive,
		})
	}
	return out, nil
}

// mirror builds the exact inverse of original.
func mirror(original PostingGroup, req ReverseRequest, now time.Time) PostingGroup {
	id := uuid.New()
	target := original.ID
	rev := PostingGroup{
		ID:               id,
		TenantID:         original.TenantID,
		CropCycleID:      original.CropCycleID,
		SourceType:       SourceReversal,
		SourceID:         original.ID.String(),
		PostingDate:      req.ReversalDate,
		IdempotencyKey:   req.ReversalDate.Format(time.DateOnly),
		Currency:         original.Currency,
		ReversalOf:       &target,
		CorrectionReason: req.Reason,
		CreatedAt:        now.UTC(),
	}
	rev.Entries = make([]LedgerEntry, len(original.Entries))
	for i, e := range original.Entries {
		rev.Entries[i] = LedgerEntry{
			ID:             uuid.New(),
			TenantID:       e.TenantID,
			PostingGroupID: id,
			AccountID:      e.AccountID,
			Debit:          e.Credit,
			Credit:         e.Debit,
			Currency:       e.Currency,
			Memo:           e.Memo,
		}
	}
	rev.Rows = make([]AllocationRow, len(original.Rows))
	for i, r := range original.Rows {
		rev.Rows[i] = AllocationRow{
			ID:             uuid.New(),
			TenantID:       r.TenantID,
			PostingGroupID: id,
			AccountID:      r.AccountID,
			PartyID:        r.PartyID,
			ProjectID:      r.ProjectID,
			Type:           r.Type,
			Amount:         r.Amount.Neg(),
			RuleSnapshot:   r.RuleSnapshot,
		}
	}
	for _, m := range original.Movements {
		rev.Movements = append(rev.Movements, m.Negated())
	}
	return rev
}
