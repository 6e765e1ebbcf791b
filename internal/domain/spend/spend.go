package spend

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"orgai/services/chat-api/internal/infrastructure/metrics"
)

var (
	// ErrAlreadyExists is returned by Create when a record for the same
	// week and user was inserted concurrently.
	ErrAlreadyExists = errors.New("spend record already exists")

	// ErrVersionConflict is returned by UpdateWithVersion when the stored
	// version no longer matches the expected one.
	ErrVersionConflict = errors.New("spend record version conflict")

	// ErrConcurrencyExhausted is returned by RecordSpend after all write
	// attempts lost their race.
	ErrConcurrencyExhausted = errors.New("spend write retries exhausted")

	// ErrBudgetExceeded is returned by CheckBudget when the user has spent
	// their weekly allowance.
	ErrBudgetExceeded = errors.New("weekly spend limit exceeded")
)

// maxAttempts bounds the read-modify-write loop in RecordSpend.
const maxAttempts = 3

// Record is one user's accumulated spend for one week.
type Record struct {
	WeekStart string
	UserEmail string
	GroupName string
	Spent     decimal.Decimal
	Version   int64
}

// Repository persists weekly spend records with version-guarded writes.
type Repository interface {
	// Get returns the record for the given week and user. The bool reports
	// whether the record exists.
	Get(ctx context.Context, weekStart, userEmail string) (*Record, bool, error)

	// Create inserts a fresh record with Version 1. Returns
	// ErrAlreadyExists if the (week, user) pair is already present.
	Create(ctx context.Context, rec *Record) error

	// UpdateWithVersion writes rec only if the stored version equals
	// expected, bumping the version by one. Returns ErrVersionConflict
	// when the guard fails.
	UpdateWithVersion(ctx context.Context, rec *Record, expected int64) error
}

// Ledger tracks per-user weekly spend against group limits.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a ledger over the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// CurrentWeekStart returns the week key for t: the date of the most recent
// Sunday in UTC, formatted as yyyy-mm-dd. A Sunday is its own week start.
func CurrentWeekStart(t time.Time) string {
	utc := t.UTC()
	return utc.AddDate(0, 0, -int(utc.Weekday())).Format("2006-01-02")
}

// GetSpend returns the user's accumulated spend for the current week, zero
// when no record exists yet.
func (l *Ledger) GetSpend(ctx context.Context, userEmail string) (decimal.Decimal, error) {
	rec, found, err := l.repo.Get(ctx, CurrentWeekStart(l.now()), userEmail)
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		return decimal.Zero, nil
	}
	return rec.Spent, nil
}

// CheckBudget returns ErrBudgetExceeded when the user's spend for the
// current week has reached or passed the limit. A zero limit disables the
// check.
func (l *Ledger) CheckBudget(ctx context.Context, userEmail string, limit decimal.Decimal) error {
	if limit.IsZero() {
		return nil
	}
	spent, err := l.GetSpend(ctx, userEmail)
	if err != nil {
		return err
	}
	if spent.GreaterThanOrEqual(limit) {
		return ErrBudgetExceeded
	}
	return nil
}

// RecordSpend adds amount to the user's record for the current week using a
// bounded read-modify-write loop and returns the user's new weekly total.
// Create races fall through to an update retry; version conflicts re-read
// and retry. After maxAttempts losses it returns ErrConcurrencyExhausted
// and the amount is not recorded. Negative amounts are valid and act as
// credits.
func (l *Ledger) RecordSpend(ctx context.Context, userEmail, groupName string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsZero() {
		return l.GetSpend(ctx, userEmail)
	}

	weekStart := CurrentWeekStart(l.now())

	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec, found, err := l.repo.Get(ctx, weekStart, userEmail)
		if err != nil {
			return decimal.Zero, err
		}

		if !found {
			fresh := &Record{
				WeekStart: weekStart,
				UserEmail: userEmail,
				GroupName: groupName,
				Spent:     amount,
				Version:   1,
			}
			err = l.repo.Create(ctx, fresh)
			if err == nil {
				return fresh.Spent, nil
			}
			if errors.Is(err, ErrAlreadyExists) {
				metrics.SpendWriteConflicts.Inc()
				continue
			}
			return decimal.Zero, err
		}

		updated := &Record{
			WeekStart: weekStart,
			UserEmail: userEmail,
			GroupName: rec.GroupName,
			Spent:     rec.Spent.Add(amount),
			Version:   rec.Version,
		}
		err = l.repo.UpdateWithVersion(ctx, updated, rec.Version)
		if err == nil {
			return updated.Spent, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			metrics.SpendWriteConflicts.Inc()
			continue
		}
		return decimal.Zero, err
	}

	return decimal.Zero, ErrConcurrencyExhausted
}
