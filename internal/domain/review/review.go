package review

import (
	"context"
	"time"
)

// Entry is one conversation awaiting human review. Entries are keyed by
// conversation, so repeated escalations of the same conversation collapse
// into a single entry.
type Entry struct {
	GroupName      string
	ConversationID string
	UserEmail      string
	Title          string
	Flagged        bool
	Score          float64
	CreatedAt      time.Time
}

// Queue holds conversations escalated for review.
type Queue interface {
	// Upsert adds or refreshes the entry for a conversation. A later
	// escalation with a higher score or a flag replaces the earlier one.
	Upsert(ctx context.Context, entry *Entry) error

	// Resolve removes the entry for a conversation. The bool reports
	// whether an entry existed; resolving an absent entry is not an
	// error, so resolution is idempotent.
	Resolve(ctx context.Context, groupName, conversationID string) (bool, error)

	// List returns the group's pending entries, oldest first.
	List(ctx context.Context, groupName string) ([]Entry, error)
}
