package subledgerhttp

import (
	"time"

	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/ledger"
	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/platform/httpx"
	"github.com/agriops/agriledger/internal/subledger"
)

type agingRowView struct {
	PartyID     uuid.UUID         `json:"party_id"`
	AccountID   uuid.UUID         `json:"account_id"`
	GroupID     uuid.UUID         `json:"posting_group_id"`
	SourceType  ledger.SourceType `json:"source_type"`
	SourceID    string            `json:"source_id"`
	PostingDate string            `json:"posting_date"`
	DueDate     string            `json:"due_date"`
	Face        string            `json:"face_amount"`
	Open        string            `json:"open_balance"`
	Bucket      subledger.Bucket  `json:"bucket"`
}

type agingView struct {
	Side    subledger.Side              `json:"side"`
	AsOf    string                      `json:"as_of"`
	Rows    []agingRowView              `json:"rows"`
	Buckets map[subledger.Bucket]string `json:"buckets"`
	Total   string                      `json:"total"`
}

func newAgingView(r subledger.AgingReport) agingView {
	v := agingView{
		Side:    r.Side,
		AsOf:    r.AsOf.Format(time.DateOnly),
		Rows:    make([]agingRowView, 0, len(r.Rows)),
		Buckets: make(map[subledger.Bucket]string, len(subledger.Buckets)),
		Total:   httpx.Money(r.Total),
	}
	for _, b := range subledger.Buckets {
		v.Buckets[b] = httpx.Money(r.Buckets[b])
	}
	for _, row := range r.Rows {
		v.Rows = append(v.Rows, agingRowView{
			PartyID:     row.PartyID,
			AccountID:   row.AccountID,
			GroupID:     row.GroupID,
			SourceType:  row.SourceType,
			SourceID:    row.SourceID,
			PostingDate: row.PostingDate.Format(time.DateOnly),
			DueDate:     row.DueDate.Format(time.DateOnly),
			Face:        httpx.Money(row.Face),
			Open:        httpx.Money(row.Open),
			Bucket:      row.Bucket,
		})
	}
	return v
}

type reconciliationView struct {
	Side               subledger.Side `json:"side"`
	AsOf               string         `json:"as_of"`
	SubledgerOpenTotal string         `json:"subledger_open_total"`
	GLControlTotal     string         `json:"gl_control_total"`
	Delta              string         `json:"delta"`
	UnappliedTotal     string         `json:"unapplied_total"`
	Residual           string         `json:"residual"`
	Balanced           bool           `json:"balanced"`
}

func newReconciliationView(r subledger.Reconciliation) reconciliationView {
	return reconciliationView{
		Side:               r.Side,
		AsOf:               r.AsOf.Format(time.DateOnly),
		SubledgerOpenTotal: httpx.Money(r.SubledgerOpenTotal),
		GLControlTotal:     httpx.Money(r.GLControlTotal),
		Delta:              httpx.Money(r.Delta),
		UnappliedTotal:     httpx.Money(r.UnappliedTotal),
		Residual:           httpx.Money(r.Residual),
		Balanced:           r.Balanced,
	}
}

type summaryLineView struct {
	Role      accounts.Role `json:"role"`
	AccountID uuid.UUID     `json:"account_id"`
	Code      string        `json:"account_code"`
	PartyID   *uuid.UUID    `json:"party_id,omitempty"`
	Opening   string        `json:"opening_balance"`
	Movement  string        `json:"period_movement"`
	Closing   string        `json:"closing_balance"`
}

type summaryView struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	GroupBy subledger.GroupBy `json:"group_by"`
	Lines   []summaryLineView `json:"lines"`
}

func newSummaryView(r subledger.SummaryReport) summaryView {
	v := summaryView{
		From:    r.From.Format(time.DateOnly),
		To:      r.To.Format(time.DateOnly),
		GroupBy: r.GroupBy,
		Lines:   make([]summaryLineView, 0, len(r.Lines)),
	}
	for _, l := range r.Lines {
		v.Lines = append(v.Lines, summaryLineView{
			Role:      l.Role,
			AccountID: l.AccountID,
			Code:      l.Code,
			PartyID:   l.PartyID,
			Opening:   httpx.Money(l.Opening),
			Movement:  httpx.Money(l.Movement),
			Closing:   httpx.Money(l.Closing),
		})
	}
	return v
}
