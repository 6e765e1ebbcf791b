package spendrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"orgai/services/chat-api/internal/domain/spend"
	"orgai/services/chat-api/internal/infrastructure/database/dbschema"
)

// SpendRepository implements spend.Repository on postgres. Updates are
// version-guarded so concurrent writers detect each other, and creates
// rely on the unique (week_start, user_email) constraint.
type SpendRepository struct {
	db *gorm.DB
}

var _ spend.Repository = (*SpendRepository)(nil)

// NewSpendRepository creates a spend repository.
func NewSpendRepository(db *gorm.DB) *SpendRepository {
	return &SpendRepository{db: db}
}

// Get returns the record for the given week and user.
func (r *SpendRepository) Get(ctx context.Context, weekStart, userEmail string) (*spend.Record, bool, error) {
	var row dbschema.SpendRecord
	err := r.db.WithContext(ctx).
		Where("week_start = ? AND user_email = ?", weekStart, userEmail).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.EtoD(), true, nil
}

// Create inserts a fresh record. A unique constraint violation maps to
// spend.ErrAlreadyExists so the ledger can retry as an update.
func (r *SpendRepository) Create(ctx context.Context, rec *spend.Record) error {
	row := dbschema.NewSchemaSpendRecord(rec)
	err := r.db.WithContext(ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return spend.ErrAlreadyExists
	}
	return err
}

// UpdateWithVersion applies the record only when the stored version still
// matches expected. Zero affected rows means another writer got there
// first.
func (r *SpendRepository) UpdateWithVersion(ctx context.Context, rec *spend.Record, expected int64) error {
	res := r.db.WithContext(ctx).
		Model(&dbschema.SpendRecord{}).
		Where("week_start = ? AND user_email = ? AND version = ?", rec.WeekStart, rec.UserEmail, expected).
		Updates(map[string]interface{}{
			"spent":   rec.Spent,
			"version": expected + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return spend.ErrVersionConflict
	}
	return nil
}
