package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Roles a turn can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FlagSentinel marks an assistant turn written in place of a completion
// when the conversation was flagged. Its presence as the last assistant
// turn makes the conversation terminal.
const FlagSentinel = "[flagged]"

// FlagMessage is the text shown to the user in place of a completion when
// their conversation is flagged.
const FlagMessage = "# This conversation has been flagged for review.\n\n" +
	"Our system detected content that may violate our usage policies. " +
	"A reviewer will take a look shortly. You cannot continue this conversation."

// Turn is a single message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Images    []string  `json:"images,omitempty"`
	Files     []string  `json:"files,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is the transcript body stored as one JSON document per
// conversation.
type Document struct {
	PresetID string `json:"preset_id"`
	Turns    []Turn `json:"turns"`
}

// Conversation is the stored conversation with its transcript document.
type Conversation struct {
	PublicID  string
	UserEmail string
	GroupName string
	Title     string
	Cost      decimal.Decimal
	Flagged   bool
	Deleted   bool
	Document  Document
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether the conversation can no longer be continued.
// A conversation is terminal once its last assistant turn is the flag
// sentinel.
func (c *Conversation) IsTerminal() bool {
	for i := len(c.Document.Turns) - 1; i >= 0; i-- {
		if c.Document.Turns[i].Role == RoleAssistant {
			return c.Document.Turns[i].Text == FlagSentinel
		}
	}
	return false
}

// UserTexts returns the text of every user turn in order.
func (c *Conversation) UserTexts() []string {
	var texts []string
	for _, t := range c.Document.Turns {
		if t.Role == RoleUser {
			texts = append(texts, t.Text)
		}
	}
	return texts
}

// Summary is a conversation without its transcript, for listings.
type Summary struct {
	PublicID  string
	Title     string
	Cost      decimal.Decimal
	Flagged   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists conversations as whole documents. Writes replace the
// stored document; there is no partial turn update.
type Store interface {
	// Get returns the conversation by public ID. The bool reports whether
	// it exists and is not soft-deleted.
	Get(ctx context.Context, userEmail, publicID string) (*Conversation, bool, error)

	// Put creates or replaces the conversation document.
	Put(ctx context.Context, conv *Conversation) error

	// List returns the user's conversations, newest first, without
	// transcripts.
	List(ctx context.Context, userEmail string) ([]Summary, error)

	// SoftDelete hides the conversation from Get and List. The bool
	// reports whether a live conversation was found.
	SoftDelete(ctx context.Context, userEmail, publicID string) (bool, error)
}

// TitleFromMessage derives a provisional title from the first prompt, used
// until the model-generated title arrives.
func TitleFromMessage(message string) string {
	title := strings.TrimSpace(message)
	if idx := strings.IndexAny(title, "\r\n"); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	if len(title) > 60 {
		title = strings.TrimSpace(title[:57]) + "..."
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
