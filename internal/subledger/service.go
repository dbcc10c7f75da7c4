package subledger

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/allocation"
	"github.com/agriops/agriledger/internal/ledger/fault"
	"github.com/agriops/agriledger/internal/ledger/periods"
	"github.com/agriops/agriledger/internal/observability"
)

// Service answers subledger reports.
type Service struct {
	store   Store
	cache   *Cache
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	now     func() time.Time
}

// NewService builds the aggregator. cache may be nil.
func NewService(store Store, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger, now: time.Now}
}

// WithMetrics attaches the residual gauge.
func (s *Service) WithMetrics(m *observability.LedgerMetrics) {
	s.metrics = m
}

// WithNow overrides the clock used when as_of is omitted.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return periods.Day(s.now())
	}
	return periods.Day(t)
}

// Aging buckets the open documents of side as of asOf.
func (s *Service) Aging(ctx context.Context, tenantID uuid.UUID, side Side, asOf time.Time) (AgingReport, error) {
	asOf = s.asOf(asOf)
	var report AgingReport
	err := s.cached(ctx, tenantID, &report, func(ctx context.Context) (any, error) {
		var out AgingReport
		err := s.store.WithSnapshot(ctx, func(ctx context.Context, r Reader) error {
			_, items, applied, err := sideData(ctx, r, tenantID, side, asOf)
			if err != nil {
				return err
			}
			out = buildAging(side, asOf, items, applied)
			return nil
		})
		return out, err
	}, "aging", string(side), asOf.Format(time.DateOnly))
	return report, err
}

// Reconcile compares the side's open items with its control accounts.
// A residual beyond Tolerance is reported, logged and never absorbed.
func (s *Service) Reconcile(ctx context.Context, tenantID uuid.UUID, side Side, asOf time.Time) (Reconciliation, error) {
	asOf = s.asOf(asOf)
	var rec Reconciliation
	err := s.cached(ctx, tenantID, &rec, func(ctx context.Context) (any, error) {
		var out Reconciliation
		err := s.store.WithSnapshot(ctx, func(ctx context.Context, r Reader) error {
			cat, items, applied, err := sideData(ctx, r, tenantID, side, asOf)
			if err != nil {
				return err
			}
			totals, err := r.ControlTotals(ctx, tenantID, cat.ControlAccounts(side.catalogSide()), asOf)
			if err != nil {
				return err
			}
			out = reconcile(side, asOf, cat, items, applied, totals)
			return nil
		})
		return out, err
	}, "reconciliation", string(side), asOf.Format(time.DateOnly))
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Balanced {
		s.logger.Error("subledger reconciliation residual",
			slog.String("tenant_id", tenantID.String()),
			slog.String("side", string(side)),
			slog.String("as_of", asOf.Format(time.DateOnly)),
			slog.String("residual", rec.Residual.StringFixed(2)))
	}
	if s.metrics != nil {
		residual, _ := rec.Residual.Float64()
		s.metrics.ObserveResidual(string(side), residual)
	}
	return rec, nil
}

// Summary reports opening, movement and closing balances per role or per
// role and party.
func (s *Service) Summary(ctx context.Context, tenantID uuid.UUID, filter SummaryFilter) (SummaryReport, error) {
	if filter.GroupBy == "" {
		filter.GroupBy = GroupByRole
	}
	if filter.GroupBy != GroupByRole && filter.GroupBy != GroupByRoleParty {
		return SummaryReport{}, fault.Validation("subledger: group_by %q", filter.GroupBy)
	}
	if filter.From.IsZero() || filter.To.IsZero() || filter.To.Before(filter.From) {
		return SummaryReport{}, fault.Validation("subledger: from and to required with from <= to")
	}
	filter.From, filter.To = periods.Day(filter.From), periods.Day(filter.To)

	var report SummaryReport
	err := s.cached(ctx, tenantID, &report, func(ctx context.Context) (any, error) {
		var out SummaryReport
		err := s.store.WithSnapshot(ctx, func(ctx context.Context, r Reader) error {
			var err error
			out, err = summarize(ctx, r, tenantID, filter)
			return err
		})
		return out, err
	}, summaryKey(filter)...)
	return report, err
}

// OpenItems lists a party's documents on a control account that can still
// absorb a settlement as of asOf.
func (s *Service) OpenItems(ctx context.Context, tenantID, partyID, accountID uuid.UUID, asOf time.Time) ([]allocation.OpenItem, error) {
	asOf = s.asOf(asOf)
	var out []allocation.OpenItem
	err := s.store.WithSnapshot(ctx, func(ctx context.Context, r Reader) error {
		items, err := r.Items(ctx, tenantID, []uuid.UUID{accountID}, asOf)
		if err != nil {
			return err
		}
		applied, err := r.Settlements(ctx, tenantID, []uuid.UUID{accountID}, asOf)
		if err != nil {
			return err
		}
		out = fifoCandidates(openDocuments(items, applied), partyID, accountID)
		return nil
	})
	return out, err
}

func (s *Service) cached(ctx context.Context, tenantID uuid.UUID, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, tenantID, parts...)
	if err != nil {
		s.logger.Warn("report cache key", slog.Any("error", err))
		return roundTripLoad(ctx, dest, loader)
	}
	return s.cache.FetchJSON(ctx, key, dest, loader)
}

func roundTripLoad(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	return roundTrip(value, dest)
}

func sideData(ctx context.Context, r Reader, tenantID uuid.UUID, side Side, asOf time.Time) (*accounts.Catalog, []Item, []Applied, error) {
	cat, err := r.LoadCatalog(ctx, tenantID)
	if err != nil {
		return nil, nil, nil, err
	}
	control := cat.ControlAccounts(side.catalogSide())
	if len(control) == 0 {
		return cat, nil, nil, nil
	}
	items, err := r.Items(ctx, tenantID, control, asOf)
	if err != nil {
		return nil, nil, nil, err
	}
	applied, err := r.Settlements(ctx, tenantID, control, asOf)
	if err != nil {
		return nil, nil, nil, err
	}
	return cat, items, applied, nil
}

func reconcile(side Side, asOf time.Time, cat *accounts.Catalog, items []Item, applied []Applied, totals []AccountTotal) Reconciliation {
	open := decimal.Zero
	for _, row := range openDocuments(items, applied) {
		open = open.Add(row.Open)
	}
	gl := decimal.Zero
	for _, t := range totals {
		gl = gl.Add(cat.NaturalNet(t.AccountID, t.Debit, t.Credit))
	}
	unapplied := unappliedTotal(items, applied)
	delta := open.Sub(gl)
	residual := delta.Sub(unapplied)
	return Reconciliation{
		Side:               side,
		AsOf:               asOf,
		SubledgerOpenTotal: open,
		GLControlTotal:     gl,
		Delta:              delta,
		UnappliedTotal:     unapplied,
		Residual:           residual,
		Balanced:           residual.Abs().LessThanOrEqual(Tolerance),
	}
}

func summaryKey(f SummaryFilter) []string {
	parts := []string{"summary", string(f.GroupBy), f.From.Format(time.DateOnly), f.To.Format(time.DateOnly), string(f.Role)}
	for _, id := range []*uuid.UUID{f.PartyID, f.ProjectID, f.CropCycleID} {
		if id == nil {
			parts = append(parts, "-")
			continue
		}
		parts = append(parts, id.String())
	}
	return parts
}

func summarize(ctx context.Context, r Reader, tenantID uuid.UUID, f SummaryFilter) (SummaryReport, error) {
	cat, err := r.LoadCatalog(ctx, tenantID)
	if err != nil {
		return SummaryReport{}, err
	}
	var bindings []accounts.Binding
	if f.Role != "" {
		b, ok := cat.Binding(f.Role)
		if !ok {
			return SummaryReport{}, fault.Validation("subledger: role %s has no account binding", f.Role)
		}
		bindings = []accounts.Binding{b}
	} else {
		bindings = cat.Bindings()
	}
	partyScoped := f.GroupBy == GroupByRoleParty || f.PartyID != nil || f.ProjectID != nil
	ids := make([]uuid.UUID, 0, len(bindings))
	roleOf := make(map[uuid.UUID]accounts.Role, len(bindings))
	for _, b := range bindings {
		if partyScoped && !b.Control() {
			continue
		}
		if _, dup := roleOf[b.AccountID]; dup {
			continue
		}
		ids = append(ids, b.AccountID)
		roleOf[b.AccountID] = b.Role
	}
	report := SummaryReport{From: f.From, To: f.To, GroupBy: f.GroupBy, Lines: []SummaryLine{}}
	if len(ids) == 0 {
		return report, nil
	}

	q := BalanceQuery{AccountIDs: ids, From: f.From, To: f.To, CropCycleID: f.CropCycleID, PartyID: f.PartyID, ProjectID: f.ProjectID}
	var balances []Balance
	if partyScoped {
		if balances, err = r.RowBalances(ctx, tenantID, q); err != nil {
			return SummaryReport{}, err
		}
		for i := range balances {
			balances[i].Opening = cat.DebitMinusCredit(balances[i].AccountID, balances[i].Opening)
			balances[i].Movement = cat.DebitMinusCredit(balances[i].AccountID, balances[i].Movement)
			if f.GroupBy == GroupByRole {
				balances[i].PartyID = nil
			}
		}
	} else if balances, err = r.EntryBalances(ctx, tenantID, q); err != nil {
		return SummaryReport{}, err
	}

	type lineKey struct {
		account uuid.UUID
		party   uuid.UUID
	}
	index := make(map[lineKey]int)
	for _, b := range balances {
		k := lineKey{account: b.AccountID}
		if b.PartyID != nil {
			k.party = *b.PartyID
		}
		i, ok := index[k]
		if !ok {
			acct, err := cat.Account(b.AccountID)
			if err != nil {
				return SummaryReport{}, err
			}
			report.Lines = append(report.Lines, SummaryLine{
				Role:      roleOf[b.AccountID],
				AccountID: b.AccountID,
				Code:      acct.Code,
				PartyID:   b.PartyID,
				Opening:   decimal.Zero,
				Movement:  decimal.Zero,
			})
			i = len(report.Lines) - 1
			index[k] = i
		}
		report.Lines[i].Opening = report.Lines[i].Opening.Add(b.Opening)
		report.Lines[i].Movement = report.Lines[i].Movement.Add(b.Movement)
	}
	for i := range report.Lines {
		report.Lines[i].Closing = report.Lines[i].Opening.Add(report.Lines[i].Movement)
	}
	sort.SliceStable(report.Lines, func(i, j int) bool {
		a, b := report.Lines[i], report.Lines[j]
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		return partyString(a.PartyID) < partyString(b.PartyID)
	})
	return report, nil
}

func partyString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
