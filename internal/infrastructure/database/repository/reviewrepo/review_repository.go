package reviewrepo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"orgai/services/chat-api/internal/domain/review"
	"orgai/services/chat-api/internal/infrastructure/database/dbschema"
)

// ReviewRepository implements review.Queue on postgres.
type ReviewRepository struct {
	db *gorm.DB
}

var _ review.Queue = (*ReviewRepository)(nil)

// NewReviewRepository creates a review repository.
func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Upsert adds or refreshes the entry for a conversation, keyed by
// (group, conversation).
func (r *ReviewRepository) Upsert(ctx context.Context, entry *review.Entry) error {
	row := dbschema.NewSchemaReviewEntry(entry)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "group_name"}, {Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "flagged", "score", "updated_at",
			}),
		}).
		Create(row).Error
}

// Resolve removes the entry. Resolving an absent entry reports false
// without error, so the operation is idempotent.
func (r *ReviewRepository) Resolve(ctx context.Context, groupName, conversationID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("group_name = ? AND conversation_id = ?", groupName, conversationID).
		Delete(&dbschema.ReviewEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// List returns the group's pending entries, oldest first.
func (r *ReviewRepository) List(ctx context.Context, groupName string) ([]review.Entry, error) {
	var rows []dbschema.ReviewEntry
	err := r.db.WithContext(ctx).
		Where("group_name = ?", groupName).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]review.Entry, len(rows))
	for i := range rows {
		entries[i] = rows[i].EtoD()
	}
	return entries, nil
}
