package conversationrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"orgai/services/chat-api/internal/domain/conversation"
	"orgai/services/chat-api/internal/infrastructure/database/dbschema"
)

// ConversationRepository implements conversation.Store on postgres, one
// JSON document per conversation.
type ConversationRepository struct {
	db *gorm.DB
}

var _ conversation.Store = (*ConversationRepository)(nil)

// NewConversationRepository creates a conversation repository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Get returns the live conversation by public ID.
func (r *ConversationRepository) Get(ctx context.Context, userEmail, publicID string) (*conversation.Conversation, bool, error) {
	var row dbschema.Conversation
	err := r.db.WithContext(ctx).
		Where("user_email = ? AND public_id = ? AND deleted = false", userEmail, publicID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	conv, err := row.EtoD()
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// Put creates or replaces the conversation document, keyed by public ID.
func (r *ConversationRepository) Put(ctx context.Context, conv *conversation.Conversation) error {
	row, err := dbschema.NewSchemaConversation(conv)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "public_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "cost", "flagged", "deleted", "document", "updated_at",
			}),
		}).
		Create(row).Error
}

// List returns the user's live conversations, newest first, without
// loading transcripts.
func (r *ConversationRepository) List(ctx context.Context, userEmail string) ([]conversation.Summary, error) {
	var rows []dbschema.Conversation
	err := r.db.WithContext(ctx).
		Select("public_id", "title", "cost", "flagged", "created_at", "updated_at").
		Where("user_email = ? AND deleted = false", userEmail).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]conversation.Summary, len(rows))
	for i := range rows {
		summaries[i] = rows[i].Summary()
	}
	return summaries, nil
}

// SoftDelete hides the conversation. The bool reports whether a live row
// was found.
func (r *ConversationRepository) SoftDelete(ctx context.Context, userEmail, publicID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&dbschema.Conversation{}).
		Where("user_email = ? AND public_id = ? AND deleted = false", userEmail, publicID).
		Update("deleted", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
