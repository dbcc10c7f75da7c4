package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agriops/agriledger/internal/ledger/fault"
)

// Status enumerates period and crop cycle states.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Period represents a fiscal period window for one tenant.
type Period struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	StartDate time.Time
	EndDate   time.Time
	Status    Status
}

// Covers reports whether date falls inside the period, inclusive.
func (p Period) Covers(date time.Time) bool {
	d := Day(date)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// CropCycle is a season window that postings may be attributed to.
type CropCycle struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	StartDate time.Time
	EndDate   *time.Time
	Status    Status
}

var (
	// ErrPeriodNotFound indicates no period covers the requested date.
	ErrPeriodNotFound = fault.New(fault.KindNotFound, "periods: no period covers date")
	// ErrPeriodClosed indicates the covering period is closed.
	ErrPeriodClosed = fault.New(fault.KindStateConflict, "periods: period is closed")
	// ErrCycleNotFound indicates an unknown crop cycle reference.
	ErrCycleNotFound = fault.New(fault.KindValidation, "periods: crop cycle not found")
	// ErrCycleClosed indicates the crop cycle is closed.
	ErrCycleClosed = fault.New(fault.KindStateConflict, "periods: crop cycle is closed")
	// ErrDateOutsideCycle indicates the posting date is outside the crop cycle window.
	ErrDateOutsideCycle = fault.New(fault.KindStateConflict, "periods: date outside crop cycle")
)

// Store reads and creates periods and reads crop cycles inside the caller's
// transaction.
type Store interface {
	FindPeriodCovering(ctx context.Context, tenantID uuid.UUID, date time.Time) (Period, error)
	// InsertPeriod creates the period or returns the one already stored for
	// the same tenant and start date.
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	GetCropCycle(ctx context.Context, tenantID, cycleID uuid.UUID) (CropCycle, error)
}

// Lock resolves and gates accounting periods and crop cycles.
type Lock struct {
	store Store
}

// NewLock constructs a Lock over store.
func NewLock(store Store) *Lock {
	return &Lock{store: store}
}

// Resolve returns the period covering date, creating an OPEN calendar-month
// period when none exists.
func (l *Lock) Resolve(ctx context.Context, tenantID uuid.UUID, date time.Time) (Period, error) {
	p, err := l.store.FindPeriodCovering(ctx, tenantID, Day(date))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPeriodNotFound) {
		return Period{}, err
	}
	start, end := MonthWindow(date)
	return l.store.InsertPeriod(ctx, Period{
		ID:        uuid.New(),
		TenantID:  tenantID,
		StartDate: start,
		EndDate:   end,
		Status:    StatusOpen,
	})
}

// EnsureOpen resolves the covering period and rejects closed ones.
func (l *Lock) EnsureOpen(ctx context.Context, tenantID uuid.UUID, date time.Time) (Period, error) {
	p, err := l.Resolve(ctx, tenantID, date)
	if err != nil {
		return Period{}, err
	}
	if p.Status == StatusClosed {
		return p, fmt.Errorf("%w: %s..%s", ErrPeriodClosed, p.StartDate.Format(time.DateOnly), p.EndDate.Format(time.DateOnly))
	}
	return p, nil
}

// EnsureCycle loads the crop cycle, when one is referenced, and checks it.
func (l *Lock) EnsureCycle(ctx context.Context, tenantID uuid.UUID, cycleID *uuid.UUID, date time.Time) error {
	if cycleID == nil {
		return nil
	}
	cycle, err := l.store.GetCropCycle(ctx, tenantID, *cycleID)
	if err != nil {
		return err
	}
	return CheckCycle(cycle, date)
}

// CheckCycle rejects closed cycles and dates outside [start, end].
func CheckCycle(cycle CropCycle, date time.Time) error {
	if cycle.Status == StatusClosed {
		return fmt.Errorf("%w: %s", ErrCycleClosed, cycle.Name)
	}
	d := Day(date)
	if d.Before(Day(cycle.StartDate)) || (cycle.EndDate != nil && d.After(Day(*cycle.EndDate))) {
		return fmt.Errorf("%w: %s not in %s", ErrDateOutsideCycle, d.Format(time.DateOnly), cycle.Name)
	}
	return nil
}

// MonthWindow returns the first and last day of date's calendar month.
func MonthWindow(date time.Time) (time.Time, time.Time) {
	d := Day(date)
	start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}
