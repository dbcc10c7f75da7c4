package subledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/ledger/allocation"
)

type itemKey struct {
	group   uuid.UUID
	party   uuid.UUID
	account uuid.UUID
}

// openDocuments returns every document item with its balance after the
// settlements visible on the snapshot date. Zero balances are kept.
func openDocuments(items []Item, applied []Applied) []AgingRow {
	settled := make(map[itemKey]decimal.Decimal, len(applied))
	for _, a := range applied {
		k := itemKey{group: a.DocumentGroupID, party: a.PartyID, account: a.AccountID}
		settled[k] = settled[k].Add(a.Amount)
	}
	rows := make([]AgingRow, 0, len(items))
	for _, it := range items {
		if !it.SourceType.Document() {
			continue
		}
		k := itemKey{group: it.GroupID, party: it.PartyID, account: it.AccountID}
		rows = append(rows, AgingRow{
			PartyID:     it.PartyID,
			AccountID:   it.AccountID,
			GroupID:     it.GroupID,
			SourceType:  it.SourceType,
			SourceID:    it.SourceID,
			PostingDate: it.PostingDate,
			DueDate:     it.Due(),
			Face:        it.Amount,
			Open:        it.Amount.Sub(settled[k]),
		})
	}
	return rows
}

// unappliedTotal is what instruments paid or credited beyond their ACTIVE
// settlements, in the control account's natural direction.
func unappliedTotal(items []Item, applied []Applied) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.SourceType.Instrument() {
			total = total.Sub(it.Amount)
		}
	}
	for _, a := range applied {
		total = total.Sub(a.Amount)
	}
	return total
}

func buildAging(side Side, asOf time.Time, items []Item, applied []Applied) AgingReport {
	report := AgingReport{
		Side:    side,
		AsOf:    asOf,
		Rows:    []AgingRow{},
		Buckets: make(map[Bucket]decimal.Decimal, len(Buckets)),
		Total:   decimal.Zero,
	}
	for _, b := range Buckets {
		report.Buckets[b] = decimal.Zero
	}
	for _, row := range openDocuments(items, applied) {
		if row.Open.IsZero() {
			continue
		}
		row.Bucket = BucketFor(asOf, row.DueDate)
		report.Buckets[row.Bucket] = report.Buckets[row.Bucket].Add(row.Open)
		report.Total = report.Total.Add(row.Open)
		report.Rows = append(report.Rows, row)
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		a, b := report.Rows[i], report.Rows[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.PartyID != b.PartyID {
			return a.PartyID.String() < b.PartyID.String()
		}
		return a.GroupID.String() < b.GroupID.String()
	})
	return report
}

// fifoCandidates converts the open documents of one party and account into
// planner input. Only positive balances can absorb a settlement.
func fifoCandidates(rows []AgingRow, partyID, accountID uuid.UUID) []allocation.OpenItem {
	var out []allocation.OpenItem
	for _, r := range rows {
		if r.PartyID != partyID || r.AccountID != accountID || !r.Open.IsPositive() {
			continue
		}
		out = append(out, allocation.OpenItem{
			DocumentID:  r.GroupID,
			DueDate:     r.DueDate,
			PostingDate: r.PostingDate,
			Open:        r.Open,
		})
	}
	return out
}
