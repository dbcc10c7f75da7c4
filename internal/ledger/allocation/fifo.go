package allocation

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpenItem is a document with an outstanding balance that an instrument can settle.
type OpenItem struct {
	DocumentID  uuid.UUID
	DueDate     time.Time
	PostingDate time.Time
	Open        decimal.Decimal
}

// Application assigns part of an instrument to one document.
type Application struct {
	DocumentID uuid.UUID
	Amount     decimal.Decimal
}

// PlanFIFO applies amount to the oldest due items first and returns the
// applications plus whatever could not be applied.
func PlanFIFO(amount decimal.Decimal, items []OpenItem) ([]Application, decimal.Decimal) {
	sorted := make([]OpenItem, 0, len(items))
	for _, it := range items {
		if it.Open.IsPositive() {
			sorted = append(sorted, it)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueDate.Equal(sorted[j].DueDate) {
			return sorted[i].DueDate.Before(sorted[j].DueDate)
		}
		if !sorted[i].PostingDate.Equal(sorted[j].PostingDate) {
			return sorted[i].PostingDate.Before(sorted[j].PostingDate)
		}
		return sorted[i].DocumentID.String() < sorted[j].DocumentID.String()
	})

	remaining := amount
	var plan []Application
	for _, it := range sorted {
		if !remaining.IsPositive() {
			break
		}
		applied := decimal.Min(remaining, it.Open)
		plan = append(plan, Application{DocumentID: it.DocumentID, Amount: applied})
		remaining = remaining.Sub(applied)
	}
	return plan, remaining
}
