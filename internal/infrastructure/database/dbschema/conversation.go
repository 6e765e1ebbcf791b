package dbschema

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"orgai/services/chat-api/internal/domain/conversation"
	"orgai/services/chat-api/internal/infrastructure/database"
)

func init() {
	database.RegisterSchemaForAutoMigrate(Conversation{})
}

// Conversation stores a whole conversation as one row: metadata columns
// plus the transcript as a JSON document.
type Conversation struct {
	BaseModel
	PublicID  string          `gorm:"type:varchar(50);uniqueIndex;not null"`
	UserEmail string          `gorm:"type:varchar(256);index:idx_conversation_user_deleted;not null"`
	GroupName string          `gorm:"type:varchar(100);index;not null"`
	Title     string          `gorm:"type:varchar(256);not null"`
	Cost      decimal.Decimal `gorm:"type:numeric(18,10);not null"`
	Flagged   bool            `gorm:"not null;default:false"`
	Deleted   bool            `gorm:"index:idx_conversation_user_deleted;not null;default:false"`
	Document  datatypes.JSON  `gorm:"type:jsonb;not null"`
}

// NewSchemaConversation creates a database row from the domain
// conversation.
func NewSchemaConversation(c *conversation.Conversation) (*Conversation, error) {
	doc, err := json.Marshal(c.Document)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation document: %w", err)
	}
	return &Conversation{
		BaseModel: BaseModel{
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		},
		PublicID:  c.PublicID,
		UserEmail: c.UserEmail,
		GroupName: c.GroupName,
		Title:     c.Title,
		Cost:      c.Cost,
		Flagged:   c.Flagged,
		Deleted:   c.Deleted,
		Document:  datatypes.JSON(doc),
	}, nil
}

// EtoD converts the database row to the domain conversation.
func (c *Conversation) EtoD() (*conversation.Conversation, error) {
	var doc conversation.Document
	if len(c.Document) > 0 {
		if err := json.Unmarshal(c.Document, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal conversation document: %w", err)
		}
	}
	return &conversation.Conversation{
		PublicID:  c.PublicID,
		UserEmail: c.UserEmail,
		GroupName: c.GroupName,
		Title:     c.Title,
		Cost:      c.Cost,
		Flagged:   c.Flagged,
		Deleted:   c.Deleted,
		Document:  doc,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}, nil
}

// Summary converts the row to a transcript-free listing entry.
func (c *Conversation) Summary() conversation.Summary {
	return conversation.Summary{
		PublicID:  c.PublicID,
		Title:     c.Title,
		Cost:      c.Cost,
		Flagged:   c.Flagged,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
