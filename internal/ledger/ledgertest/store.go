// Package ledgertest provides an in-memory ledger store for tests. One Store
// satisfies the posting repository, the subledger snapshot reader and the
// catalog loader used by documents.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/inventory"
	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/ledger/periods"
	"github.com/agriops/agriledger/internal/subledger"
)

type balanceKey struct {
	tenant uuid.UUID
	item   uuid.UUID
}

type state struct {
	catalogs    map[uuid.UUID]*accounts.Catalog
	periods     []periods.Period
	cycles      map[uuid.UUID]periods.CropCycle
	rules       []allocation.ShareRule
	groups      []ledger.PostingGroup
	entries     map[uuid.UUID][]ledger.LedgerEntry
	rows        map[uuid.UUID][]ledger.AllocationRow
	settlements []ledger.Settlement
	balances    map[balanceKey]inventory.Balance
	movements   map[uuid.UUID][]inventory.Movement
}

func newState() *state {
	return &state{
		catalogs:  make(map[uuid.UUID]*accounts.Catalog),
		cycles:    make(map[uuid.UUID]periods.CropCycle),
		entries:   make(map[uuid.UUID][]ledger.LedgerEntry),
		rows:      make(map[uuid.UUID][]ledger.AllocationRow),
		balances:  make(map[balanceKey]inventory.Balance),
		movements: make(map[uuid.UUID][]inventory.Movement),
	}
}

// clone copies every container. Stored records are never mutated in place
// except settlements, which are copied by value.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.catalogs {
		c.catalogs[k] = v
	}
	c.periods = append([]periods.Period(nil), s.periods...)
	for k, v := range s.cycles {
		c.cycles[k] = v
	}
	c.rules = append([]allocation.ShareRule(nil), s.rules...)
	c.groups = append([]ledger.PostingGroup(nil), s.groups...)
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.rows {
		c.rows[k] = v
	}
	c.settlements = append([]ledger.Settlement(nil), s.settlements...)
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.movements {
		c.movements[k] = v
	}
	return c
}

// Store is a mutex-serialised in-memory ledger.
type Store struct {
	mu        sync.Mutex
	st        *state
	conflicts int
	commits   int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// AddCatalog registers a tenant chart.
func (s *Store) AddCatalog(cat *accounts.Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.catalogs[cat.TenantID()] = cat
}

// AddPeriod stores a period as is.
func (s *Store) AddPeriod(p periods.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.st.periods = append(s.st.periods, p)
}

// ClosePeriod marks the period covering date as CLOSED, creating the month
// period when needed.
func (s *Store) ClosePeriod(tenantID uuid.UUID, date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.st.periods {
		if p.TenantID == tenantID && p.Covers(date) {
			s.st.periods[i].Status = periods.StatusClosed
			return
		}
	}
	start, end := periods.MonthWindow(date)
	s.st.periods = append(s.st.periods, periods.Period{ID: uuid.New(), TenantID: tenantID, StartDate: start, EndDate: end, Status: periods.StatusClosed})
}

// AddCycle stores a crop cycle.
func (s *Store) AddCycle(c periods.CropCycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cycles[c.ID] = c
}

// AddRule stores a share rule version.
func (s *Store) AddRule(r allocation.ShareRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.rules = append(s.st.rules, r)
}

// InjectConflicts makes the next n transactions fail as if they lost a
// serialization race.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// Commits counts committed write transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Groups returns the tenant's group headers in insertion order with
// ReversedBy derived.
func (s *Store) Groups(tenantID uuid.UUID) []ledger.PostingGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &view{st: s.st}
	var out []ledger.PostingGroup
	for _, g := range s.st.groups {
		if g.TenantID == tenantID {
			out = append(out, v.derive(g))
		}
	}
	return out
}

// Entries returns the committed entries of a group.
func (s *Store) Entries(groupID uuid.UUID) []ledger.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.LedgerEntry(nil), s.st.entries[groupID]...)
}

// InventoryBalance returns the committed balance of an item.
func (s *Store) InventoryBalance(tenantID, itemID uuid.UUID) inventory.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.balances[balanceKey{tenant: tenantID, item: itemID}]
}

// LoadCatalog returns the registered chart.
func (s *Store) LoadCatalog(ctx context.Context, tenantID uuid.UUID) (*accounts.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{st: s.st}).LoadCatalog(ctx, tenantID)
}

// WithTx implements ledger.Repository. Transactions run one at a time against
// a private copy that replaces the committed state only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := &view{st: s.st.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		return ledger.ErrConcurrentWrite
	}
	if work.dirty {
		s.commits++
	}
	s.st = work.st
	return nil
}

// WithSnapshot implements subledger.Store.
func (s *Store) WithSnapshot(ctx context.Context, fn func(context.Context, subledger.Reader) error) error {
	s.mu.Lock()
	snap := &view{st: s.st.clone()}
	s.mu.Unlock()
	return fn(ctx, snap)
}

// view is one transaction's or snapshot's window onto a state copy.
type view struct {
	st    *state
	dirty bool
}

func (v *view) derive(g ledger.PostingGroup) ledger.PostingGroup {
	g.ReversedBy = nil
	for _, other := range v.st.groups {
		if other.TenantID == g.TenantID && other.ReversalOf != nil && *other.ReversalOf == g.ID {
			id := other.ID
			g.ReversedBy = &id
			break
		}
	}
	return g
}

func (v *view) standing(tenantID, groupID uuid.UUID) (ledger.PostingGroup, bool) {
	for _, g := range v.st.groups {
		if g.TenantID == tenantID && g.ID == groupID {
			g = v.derive(g)
			return g, ledger.Standing(g)
		}
	}
	return ledger.PostingGroup{}, false
}

func (v *view) LoadCatalog(_ context.Context, tenantID uuid.UUID) (*accounts.Catalog, error) {
	if cat, ok := v.st.catalogs[tenantID]; ok {
		return cat, nil
	}
	return accounts.NewCatalog(tenantID, nil, nil)
}

func (v *view) FindPeriodCovering(_ context.Context, tenantID uuid.UUID, date time.Time) (periods.Period, error) {
	for _, p := range v.st.periods {
		if p.TenantID == tenantID && p.Covers(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrPeriodNotFound
}

func (v *view) InsertPeriod(_ context.Context, p periods.Period) (periods.Period, error) {
	for _, existing := range v.st.periods {
		if existing.TenantID == p.TenantID && existing.StartDate.Equal(p.StartDate) {
			return existing, nil
		}
	}
	v.st.periods = append(v.st.periods, p)
	v.dirty = true
	return p, nil
}

func (v *view) GetCropCycle(_ context.Context, tenantID, cycleID uuid.UUID) (periods.CropCycle, error) {
	c, ok := v.st.cycles[cycleID]
	if !ok || c.TenantID != tenantID {
		return periods.CropCycle{}, periods.ErrCycleNotFound
	}
	return c, nil
}

func (v *view) EffectiveRule(_ context.Context, tenantID, ruleID uuid.UUID, on time.Time) (allocation.ShareRule, error) {
	var best *allocation.ShareRule
	for i, r := range v.st.rules {
		if r.TenantID != tenantID || r.ID != ruleID || on.Before(r.EffectiveFrom) {
			continue
		}
		if r.EffectiveTo != nil && on.After(*r.EffectiveTo) {
			continue
		}
		if best == nil || r.Version > best.Version {
			best = &v.st.rules[i]
		}
	}
	if best == nil {
		return allocation.ShareRule{}, allocation.ErrRuleNotFound
	}
	return *best, nil
}

func (v *view) FindBySource(_ context.Context, tenantID uuid.UUID, sourceType ledger.SourceType, sourceID, key string) (ledger.PostingGroup, error) {
	for _, g := range v.st.groups {
		if g.TenantID == tenantID && g.SourceType == sourceType && g.SourceID == sourceID && g.IdempotencyKey == key {
			return v.derive(g), nil
		}
	}
	return ledger.PostingGroup{}, ledger.ErrPostingNotFound
}

func (v *view) GetGroup(_ context.Context, tenantID, id uuid.UUID) (ledger.PostingGroup, error) {
	for _, g := range v.st.groups {
		if g.TenantID == tenantID && g.ID == id {
			return v.derive(g), nil
		}
	}
	return ledger.PostingGroup{}, ledger.ErrPostingNotFound
}

func (v *view) LockGroup(ctx context.Context, tenantID, id uuid.UUID) (ledger.PostingGroup, error) {
	return v.GetGroup(ctx, tenantID, id)
}

func (v *view) ListGroups(_ context.Context, tenantID uuid.UUID, f ledger.ListFilter) ([]ledger.PostingGroup, int, error) {
	var matched []ledger.PostingGroup
	for _, g := range v.st.groups {
		if g.TenantID != tenantID {
			continue
		}
		g = v.derive(g)
		if f.SourceType != "" && g.SourceType != f.SourceType {
			continue
		}
		if f.From != nil && g.PostingDate.Before(*f.From) {
			continue
		}
		if f.To != nil && g.PostingDate.After(*f.To) {
			continue
		}
		if f.ActiveOnly && !g.Active() {
			continue
		}
		matched = append(matched, g)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].PostingDate.After(matched[j].PostingDate)
	})
	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (v *view) ListEntries(_ context.Context, tenantID, groupID uuid.UUID) ([]ledger.LedgerEntry, error) {
	var out []ledger.LedgerEntry
	for _, e := range v.st.entries[groupID] {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *view) ListAllocationRows(_ context.Context, tenantID, groupID uuid.UUID) ([]ledger.AllocationRow, error) {
	var out []ledger.AllocationRow
	for _, r := range v.st.rows[groupID] {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (v *view) ListSettlements(_ context.Context, tenantID, groupID uuid.UUID) ([]ledger.Settlement, error) {
	var out []ledger.Settlement
	for _, s := range v.st.settlements {
		if s.TenantID == tenantID && (s.InstrumentGroupID == groupID || s.DocumentGroupID == groupID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (v *view) InsertGroup(_ context.Context, g ledger.PostingGroup) (bool, error) {
	for _, existing := range v.st.groups {
		if existing.TenantID != g.TenantID {
			continue
		}
		if existing.SourceType == g.SourceType && existing.SourceID == g.SourceID && existing.IdempotencyKey == g.IdempotencyKey {
			return false, nil
		}
		if g.ReversalOf != nil && existing.ReversalOf != nil && *existing.ReversalOf == *g.ReversalOf {
			return false, nil
		}
	}
	header := g
	header.Entries, header.Rows, header.Settlements, header.Movements = nil, nil, nil, nil
	header.ReversedBy, header.Replayed = nil, false
	v.st.groups = append(v.st.groups, header)
	v.dirty = true
	return true, nil
}

func (v *view) InsertEntries(_ context.Context, entries []ledger.LedgerEntry) error {
	for _, e := range entries {
		v.st.entries[e.PostingGroupID] = append(v.st.entries[e.PostingGroupID], e)
	}
	return nil
}

func (v *view) InsertAllocationRows(_ context.Context, rows []ledger.AllocationRow) error {
	for _, r := range rows {
		v.st.rows[r.PostingGroupID] = append(v.st.rows[r.PostingGroupID], r)
	}
	return nil
}

func (v *view) InsertSettlements(_ context.Context, settlements []ledger.Settlement) error {
	v.st.settlements = append(v.st.settlements, settlements...)
	return nil
}

func (v *view) DocumentPosition(_ context.Context, tenantID, documentID, partyID, accountID uuid.UUID) (ledger.Position, error) {
	pos := ledger.Position{Face: decimal.Zero, Settled: decimal.Zero}
	for _, r := range v.st.rows[documentID] {
		if r.TenantID == tenantID && r.PartyID != nil && *r.PartyID == partyID && r.AccountID == accountID {
			pos.Face = pos.Face.Add(r.Amount)
		}
	}
	for _, s := range v.st.settlements {
		if s.TenantID == tenantID && s.DocumentGroupID == documentID && s.PartyID == partyID &&
			s.AccountID == accountID && s.Status == ledger.SettlementActive {
			pos.Settled = pos.Settled.Add(s.Amount)
		}
	}
	return pos, nil
}

func (v *view) CountActiveSettlements(_ context.Context, tenantID, groupID uuid.UUID) (int, error) {
	n := 0
	for _, s := range v.st.settlements {
		if s.TenantID == tenantID && s.Status == ledger.SettlementActive &&
			(s.InstrumentGroupID == groupID || s.DocumentGroupID == groupID) {
			n++
		}
	}
	return n, nil
}

func (v *view) GetSettlementForUpdate(_ context.Context, tenantID, id uuid.UUID) (ledger.Settlement, error) {
	for _, s := range v.st.settlements {
		if s.TenantID == tenantID && s.ID == id {
			return s, nil
		}
	}
	return ledger.Settlement{}, ledger.ErrSettlementNotFound
}

func (v *view) MarkSettlementUnapplied(_ context.Context, tenantID, id uuid.UUID, at time.Time) error {
	for i, s := range v.st.settlements {
		if s.TenantID == tenantID && s.ID == id && s.Status == ledger.SettlementActive {
			v.st.settlements[i].Status = ledger.SettlementUnapplied
			v.st.settlements[i].UnappliedAt = &at
			v.dirty = true
			return nil
		}
	}
	return ledger.ErrSettlementNotFound
}

func (v *view) GetBalanceForUpdate(_ context.Context, tenantID, itemID uuid.UUID) (inventory.Balance, error) {
	b, ok := v.st.balances[balanceKey{tenant: tenantID, item: itemID}]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (v *view) UpsertBalance(_ context.Context, b inventory.Balance) error {
	v.st.balances[balanceKey{tenant: b.TenantID, item: b.ItemID}] = b
	return nil
}

func (v *view) InsertMovements(_ context.Context, _ uuid.UUID, groupID uuid.UUID, movements []inventory.Movement) error {
	v.st.movements[groupID] = append([]inventory.Movement(nil), movements...)
	return nil
}

func (v *view) ListMovements(_ context.Context, _ uuid.UUID, groupID uuid.UUID) ([]inventory.Movement, error) {
	return append([]inventory.Movement(nil), v.st.movements[groupID]...), nil
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (v *view) Items(_ context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]subledger.Item, error) {
	type key struct{ group, party, account uuid.UUID }
	index := make(map[key]int)
	var out []subledger.Item
	for _, g := range v.st.groups {
		if g.TenantID != tenantID || g.PostingDate.After(asOf) {
			continue
		}
		if _, ok := v.standing(tenantID, g.ID); !ok {
			continue
		}
		for _, r := range v.st.rows[g.ID] {
			if r.PartyID == nil || !contains(accountIDs, r.AccountID) {
				continue
			}
			k := key{group: g.ID, party: *r.PartyID, account: r.AccountID}
			i, ok := index[k]
			if !ok {
				out = append(out, subledger.Item{
					GroupID:     g.ID,
					PartyID:     *r.PartyID,
					AccountID:   r.AccountID,
					SourceType:  g.SourceType,
					SourceID:    g.SourceID,
					PostingDate: g.PostingDate,
					DueDate:     g.DueDate,
					Amount:      decimal.Zero,
				})
				i = len(out) - 1
				index[k] = i
			}
			out[i].Amount = out[i].Amount.Add(r.Amount)
		}
	}
	return out, nil
}

func (v *view) Settlements(_ context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]subledger.Applied, error) {
	var out []subledger.Applied
	for _, s := range v.st.settlements {
		if s.TenantID != tenantID || s.Status != ledger.SettlementActive || s.AllocationDate.After(asOf) || !contains(accountIDs, s.AccountID) {
			continue
		}
		out = append(out, subledger.Applied{
			InstrumentGroupID: s.InstrumentGroupID,
			DocumentGroupID:   s.DocumentGroupID,
			PartyID:           s.PartyID,
			AccountID:         s.AccountID,
			Amount:            s.Amount,
			AllocationDate:    s.AllocationDate,
		})
	}
	return out, nil
}

func (v *view) ControlTotals(_ context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]subledger.AccountTotal, error) {
	index := make(map[uuid.UUID]int)
	var out []subledger.AccountTotal
	for _, g := range v.st.groups {
		if g.TenantID != tenantID || g.PostingDate.After(asOf) {
			continue
		}
		if _, ok := v.standing(tenantID, g.ID); !ok {
			continue
		}
		for _, e := range v.st.entries[g.ID] {
			if !contains(accountIDs, e.AccountID) {
				continue
			}
			i, ok := index[e.AccountID]
			if !ok {
				out = append(out, subledger.AccountTotal{AccountID: e.AccountID, Debit: decimal.Zero, Credit: decimal.Zero})
				i = len(out) - 1
				index[e.AccountID] = i
			}
			out[i].Debit = out[i].Debit.Add(e.Debit)
			out[i].Credit = out[i].Credit.Add(e.Credit)
		}
	}
	return out, nil
}

func (v *view) inWindow(tenantID uuid.UUID, g ledger.PostingGroup, q subledger.BalanceQuery) bool {
	if g.TenantID != tenantID || g.PostingDate.After(q.To) {
		return false
	}
	if q.CropCycleID != nil && (g.CropCycleID == nil || *g.CropCycleID != *q.CropCycleID) {
		return false
	}
	_, ok := v.standing(tenantID, g.ID)
	return ok
}

func (v *view) EntryBalances(_ context.Context, tenantID uuid.UUID, q subledger.BalanceQuery) ([]subledger.Balance, error) {
	index := make(map[uuid.UUID]int)
	var out []subledger.Balance
	for _, g := range v.st.groups {
		if !v.inWindow(tenantID, g, q) {
			continue
		}
		for _, e := range v.st.entries[g.ID] {
			if !contains(q.AccountIDs, e.AccountID) {
				continue
			}
			i, ok := index[e.AccountID]
			if !ok {
				out = append(out, subledger.Balance{AccountID: e.AccountID, Opening: decimal.Zero, Movement: decimal.Zero})
				i = len(out) - 1
				index[e.AccountID] = i
			}
			net := e.Debit.Sub(e.Credit)
			if g.PostingDate.Before(q.From) {
				out[i].Opening = out[i].Opening.Add(net)
			} else {
				out[i].Movement = out[i].Movement.Add(net)
			}
		}
	}
	return out, nil
}

func (v *view) RowBalances(_ context.Context, tenantID uuid.UUID, q subledger.BalanceQuery) ([]subledger.Balance, error) {
	type key struct{ account, party uuid.UUID }
	index := make(map[key]int)
	var out []subledger.Balance
	for _, g := range v.st.groups {
		if !v.inWindow(tenantID, g, q) {
			continue
		}
		for _, r := range v.st.rows[g.ID] {
			if r.PartyID == nil || !contains(q.AccountIDs, r.AccountID) {
				continue
			}
			if q.PartyID != nil && *r.PartyID != *q.PartyID {
				continue
			}
			if q.ProjectID != nil && (r.ProjectID == nil || *r.ProjectID != *q.ProjectID) {
				continue
			}
			k := key{account: r.AccountID, party: *r.PartyID}
			i, ok := index[k]
			if !ok {
				party := *r.PartyID
				out = append(out, subledger.Balance{AccountID: r.AccountID, PartyID: &party, Opening: decimal.Zero, Movement: decimal.Zero})
				i = len(out) - 1
				index[k] = i
			}
			if g.PostingDate.Before(q.From) {
				out[i].Opening = out[i].Opening.Add(r.Amount)
			} else {
				out[i].Movement = out[i].Movement.Add(r.Amount)
			}
		}
	}
	return out, nil
}
