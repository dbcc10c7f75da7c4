// Package subledger aggregates posted ledger data into AR/AP aging, control
// account reconciliation and role or party summaries. It only reads.
package subledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/fault"
)

// Side selects the payable or receivable subledger.
type Side string

const (
	SidePayable    Side = "PAYABLE"
	SideReceivable Side = "RECEIVABLE"
)

// ParseSide accepts the URL forms ap/ar as well as the canonical names.
func ParseSide(raw string) (Side, error) {
	switch raw {
	case "ap", "AP", "payable", "PAYABLE":
		return SidePayable, nil
	case "ar", "AR", "receivable", "RECEIVABLE":
		return SideReceivable, nil
	}
	return "", fault.Validation("subledger: unknown side %q", raw)
}

func (s Side) catalogSide() accounts.Side {
	if s == SideReceivable {
		return accounts.SideReceivable
	}
	return accounts.SidePayable
}

// Bucket labels an aging range.
type Bucket string

const (
	BucketCurrent Bucket = "CURRENT"
	Bucket1To30   Bucket = "1_30"
	Bucket31To60  Bucket = "31_60"
	Bucket61To90  Bucket = "61_90"
	Bucket90Plus  Bucket = "90_PLUS"
)

// Buckets lists every bucket in report order.
var Buckets = []Bucket{BucketCurrent, Bucket1To30, Bucket31To60, Bucket61To90, Bucket90Plus}

// BucketFor places an item by how many days past due it is on asOf.
func BucketFor(asOf, due time.Time) Bucket {
	days := int(asOf.Sub(due).Hours() / 24)
	switch {
	case days <= 0:
		return BucketCurrent
	case days <= 30:
		return Bucket1To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	default:
		return Bucket90Plus
	}
}

// Item is the attributed amount of one standing posting group for one party
// on one control account, signed in the account's natural direction.
type Item struct {
	GroupID     uuid.UUID
	PartyID     uuid.UUID
	AccountID   uuid.UUID
	SourceType  ledger.SourceType
	SourceID    string
	PostingDate time.Time
	DueDate     *time.Time
	Amount      decimal.Decimal
}

// Due returns the due date, falling back to the posting date.
func (i Item) Due() time.Time {
	if i.DueDate != nil {
		return *i.DueDate
	}
	return i.PostingDate
}

// Applied is one ACTIVE settlement visible on a date.
type Applied struct {
	InstrumentGroupID uuid.UUID
	DocumentGroupID   uuid.UUID
	PartyID           uuid.UUID
	AccountID         uuid.UUID
	Amount            decimal.Decimal
	AllocationDate    time.Time
}

// AccountTotal is the debit and credit sum of one account.
type AccountTotal struct {
	AccountID uuid.UUID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Balance carries opening and in-window movement, both as debit minus credit
// for entry balances and in natural direction for row balances.
type Balance struct {
	AccountID uuid.UUID
	PartyID   *uuid.UUID
	Opening   decimal.Decimal
	Movement  decimal.Decimal
}

// BalanceQuery scopes summary reads.
type BalanceQuery struct {
	AccountIDs  []uuid.UUID
	From        time.Time
	To          time.Time
	CropCycleID *uuid.UUID
	PartyID     *uuid.UUID
	ProjectID   *uuid.UUID
}

// Reader answers every aggregation from one consistent snapshot. All reads
// apply ledger.StandingPredicate and are scoped to the tenant.
type Reader interface {
	LoadCatalog(ctx context.Context, tenantID uuid.UUID) (*accounts.Catalog, error)
	// Items returns per group, party and account row sums for groups dated on or before asOf.
	Items(ctx context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]Item, error)
	// Settlements returns ACTIVE settlements dated on or before asOf.
	Settlements(ctx context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]Applied, error)
	ControlTotals(ctx context.Context, tenantID uuid.UUID, accountIDs []uuid.UUID, asOf time.Time) ([]AccountTotal, error)
	EntryBalances(ctx context.Context, tenantID uuid.UUID, q BalanceQuery) ([]Balance, error)
	RowBalances(ctx context.Context, tenantID uuid.UUID, q BalanceQuery) ([]Balance, error)
}

// Store opens read-only snapshots.
type Store interface {
	WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error
}

// AgingRow is one open document line.
type AgingRow struct {
	PartyID     uuid.UUID         `json:"party_id"`
	AccountID   uuid.UUID         `json:"account_id"`
	GroupID     uuid.UUID         `json:"posting_group_id"`
	SourceType  ledger.SourceType `json:"source_type"`
	SourceID    string            `json:"source_id"`
	PostingDate time.Time         `json:"posting_date"`
	DueDate     time.Time         `json:"due_date"`
	Face        decimal.Decimal   `json:"face_amount"`
	Open        decimal.Decimal   `json:"open_balance"`
	Bucket      Bucket            `json:"bucket"`
}

// AgingReport buckets open documents of one side.
type AgingReport struct {
	Side    Side                       `json:"side"`
	AsOf    time.Time                  `json:"as_of"`
	Rows    []AgingRow                 `json:"rows"`
	Buckets map[Bucket]decimal.Decimal `json:"buckets"`
	Total   decimal.Decimal            `json:"total"`
}

// Reconciliation compares the subledger against the general ledger.
type Reconciliation struct {
	Side               Side            `json:"side"`
	AsOf               time.Time       `json:"as_of"`
	SubledgerOpenTotal decimal.Decimal `json:"subledger_open_total"`
	GLControlTotal     decimal.Decimal `json:"gl_control_total"`
	Delta              decimal.Decimal `json:"delta"`
	UnappliedTotal     decimal.Decimal `json:"unapplied_total"`
	Residual           decimal.Decimal `json:"residual"`
	Balanced           bool            `json:"balanced"`
}

// GroupBy selects the summary grouping.
type GroupBy string

const (
	GroupByRole      GroupBy = "ROLE"
	GroupByRoleParty GroupBy = "ROLE_PARTY"
)

// SummaryFilter narrows the summary report.
type SummaryFilter struct {
	From        time.Time
	To          time.Time
	GroupBy     GroupBy
	Role        accounts.Role
	PartyID     *uuid.UUID
	ProjectID   *uuid.UUID
	CropCycleID *uuid.UUID
}

// SummaryLine is one group of the summary. Amounts are debit minus credit.
type SummaryLine struct {
	Role      accounts.Role   `json:"role"`
	AccountID uuid.UUID       `json:"account_id"`
	Code      string          `json:"account_code"`
	PartyID   *uuid.UUID      `json:"party_id,omitempty"`
	Opening   decimal.Decimal `json:"opening_balance"`
	Movement  decimal.Decimal `json:"period_movement"`
	Closing   decimal.Decimal `json:"closing_balance"`
}

// SummaryReport holds the grouped lines.
type SummaryReport struct {
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	GroupBy GroupBy       `json:"group_by"`
	Lines   []SummaryLine `json:"lines"`
}

// Tolerance is the largest residual treated as balanced.
var Tolerance = decimal.New(1, -2)
