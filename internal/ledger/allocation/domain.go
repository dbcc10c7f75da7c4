// Package allocation splits a posted pool amount across parties and projects
// and freezes the exact split it used.
package allocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agriops/agriledger/internal/ledger/accounts"
	"github.com/agriops/agriledger/internal/ledger/fault"
)

// Mode enumerates supported allocation strategies.
type Mode string

const (
	ModeFullParty              Mode = "FULL_PARTY"
	ModeSharedByPercentage     Mode = "SHARED_BY_PERCENTAGE"
	ModeSharedByRule           Mode = "SHARED_BY_RULE"
	ModeProportionalByQuantity Mode = "PROPORTIONAL_BY_QUANTITY"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeFullParty, ModeSharedByPercentage, ModeSharedByRule, ModeProportionalByQuantity:
		return true
	}
	return false
}

// Share is one participant of a split. Percent is used by the percentage and
// rule modes, Quantity by the proportional mode.
type Share struct {
	PartyID   *uuid.UUID      `json:"party_id,omitempty"`
	ProjectID *uuid.UUID      `json:"project_id,omitempty"`
	Percent   decimal.Decimal `json:"percent"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Instruction tells the posting engine how to attribute the group's net
// amount on one pool account.
type Instruction struct {
	Mode Mode
	// AccountID names the pool account; when zero, Role is resolved instead.
	AccountID uuid.UUID
	Role      accounts.Role
	PartyID   *uuid.UUID
	ProjectID *uuid.UUID
	Shares    []Share
	RuleID    *uuid.UUID
	// ApprovedSnapshotHash, when set, must match the hash of the computed
	// snapshot.
	ApprovedSnapshotHash string
}

// ShareRule is one version of a percentage split configuration.
type ShareRule struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Version       int
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Shares        []Share
}

// RuleSource returns the share rule version effective on a date.
type RuleSource interface {
	EffectiveRule(ctx context.Context, tenantID, ruleID uuid.UUID, on time.Time) (ShareRule, error)
}

// Row is one computed attribution. Amount is signed in the pool account's
// natural direction.
type Row struct {
	AccountID uuid.UUID
	PartyID   *uuid.UUID
	ProjectID *uuid.UUID
	Mode      Mode
	Amount    decimal.Decimal
}

// Snapshot freezes the inputs and outputs of one allocation.
type Snapshot struct {
	Mode        Mode            `json:"mode"`
	AccountID   uuid.UUID       `json:"account_id"`
	Role        accounts.Role   `json:"role,omitempty"`
	RuleID      *uuid.UUID      `json:"rule_id,omitempty"`
	RuleVersion int             `json:"rule_version,omitempty"`
	Pool        string          `json:"pool"`
	Shares      []SnapshotShare `json:"shares"`
}

// SnapshotShare is the frozen form of one participant.
type SnapshotShare struct {
	PartyID   *uuid.UUID `json:"party_id,omitempty"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	Percent   string     `json:"percent,omitempty"`
	Quantity  string     `json:"quantity,omitempty"`
	Amount    string     `json:"amount"`
}

// Canonical returns the byte form that is stored and hashed.
func (s Snapshot) Canonical() ([]byte, error) {
	return json.Marshal(s)
}

// Hash returns the hex SHA-256 of the canonical snapshot.
func (s Snapshot) Hash() (string, error) {
	raw, err := s.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Allocation is the calculator output for one instruction.
type Allocation struct {
	Rows     []Row
	Snapshot Snapshot
	Raw      []byte
	Hash     string
}

var (
	// ErrInvalidInstruction indicates a malformed allocation instruction.
	ErrInvalidInstruction = fault.New(fault.KindValidation, "allocation: invalid instruction")
	// ErrPercentTotal indicates shares that do not add up to 100 percent.
	ErrPercentTotal = fault.New(fault.KindValidation, "allocation: percentages must total 100")
	// ErrNonPositiveQuantity indicates a zero or negative quantity or quantity total.
	ErrNonPositiveQuantity = fault.New(fault.KindValidation, "allocation: quantities must be positive")
	// ErrRuleNotFound indicates no rule version is effective on the date.
	ErrRuleNotFound = fault.New(fault.KindValidation, "allocation: no share rule effective on date")
	// ErrSnapshotTampered indicates the approved snapshot hash does not match.
	ErrSnapshotTampered = fault.New(fault.KindIntegrity, "allocation: approved snapshot does not match computed split")
)
