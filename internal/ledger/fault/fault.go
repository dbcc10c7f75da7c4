// Package fault defines the failure taxonomy shared by the posting, reversal
// and reporting components.
//
// Every error produced by the ledger belongs to exactly one Kind. Callers use
// errors.Is against the kind roots (ErrValidation, ErrStateConflict,
// ErrIntegrity, ErrNotFound) to tell "bad input, nothing happened" apart from
// "blocked by committed state" and from invariant violations.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger failure.
type Kind string

const (
	// KindValidation marks malformed input detected before any write.
	KindValidation Kind = "VALIDATION"
	// KindStateConflict marks a request blocked by existing committed state.
	KindStateConflict Kind = "STATE_CONFLICT"
	// KindIntegrity marks a violated ledger invariant. Never committed.
	KindIntegrity Kind = "INTEGRITY"
	// KindNotFound marks a reference to a record that does not exist for the tenant.
	KindNotFound Kind = "NOT_FOUND"
)

// Fault is a classified ledger error.
type Fault struct {
	Kind Kind
	Msg  string
}

// New builds a fault of the given kind.
func New(kind Kind, msg string) *Fault {
	return &Fault{Kind: kind, Msg: msg}
}

func (f *Fault) Error() string {
	return f.Msg
}

// Is reports whether target is the root sentinel for the fault's kind.
func (f *Fault) Is(target error) bool {
	root, ok := roots[f.Kind]
	return ok && target == root
}

var (
	// ErrValidation is the root of all validation faults.
	ErrValidation = New(KindValidation, "validation fault")
	// ErrStateConflict is the root of all state conflicts.
	ErrStateConflict = New(KindStateConflict, "state conflict")
	// ErrIntegrity is the root of all integrity faults.
	ErrIntegrity = New(KindIntegrity, "integrity fault")
	// ErrNotFound is the root of all lookups that found nothing.
	ErrNotFound = New(KindNotFound, "not found")
)

var roots = map[Kind]error{
	KindValidation:    ErrValidation,
	KindStateConflict: ErrStateConflict,
	KindIntegrity:     ErrIntegrity,
	KindNotFound:      ErrNotFound,
}

// Validation formats a one-off validation fault.
func Validation(format string, args ...any) error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Conflict formats a one-off state conflict.
func Conflict(format string, args ...any) error {
	return New(KindStateConflict, fmt.Sprintf(format, args...))
}

// Integrity formats a one-off integrity fault.
func Integrity(format string, args ...any) error {
	return New(KindIntegrity, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first Fault in err's chain. Errors outside
// the taxonomy report an empty kind.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
