package dbschema

import (
	"orgai/services/chat-api/internal/domain/review"
	"orgai/services/chat-api/internal/infrastructure/database"
)

func init() {
	database.RegisterSchemaForAutoMigrate(ReviewEntry{})
}

// ReviewEntry is one conversation pending review. One row per
// conversation; repeated escalations upsert onto the same row.
type ReviewEntry struct {
	BaseModel
	GroupName      string  `gorm:"type:varchar(100);uniqueIndex:ux_review_group_conversation,priority:1;not null"`
	ConversationID string  `gorm:"type:varchar(50);uniqueIndex:ux_review_group_conversation,priority:2;not null"`
	UserEmail      string  `gorm:"type:varchar(256);not null"`
	Title          string  `gorm:"type:varchar(256);not null"`
	Flagged        bool    `gorm:"not null;default:false"`
	Score          float64 `gorm:"not null"`
}

// NewSchemaReviewEntry creates a database row from the domain entry.
func NewSchemaReviewEntry(e *review.Entry) *ReviewEntry {
	return &ReviewEntry{
		BaseModel: BaseModel{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.CreatedAt,
		},
		GroupName:      e.GroupName,
		ConversationID: e.ConversationID,
		UserEmail:      e.UserEmail,
		Title:          e.Title,
		Flagged:        e.Flagged,
		Score:          e.Score,
	}
}

// EtoD converts the database row to the domain entry.
func (e *ReviewEntry) EtoD() review.Entry {
	return review.Entry{
		GroupName:      e.GroupName,
		ConversationID: e.ConversationID,
		UserEmail:      e.UserEmail,
		Title:          e.Title,
		Flagged:        e.Flagged,
		Score:          e.Score,
		CreatedAt:      e.CreatedAt,
	}
}
