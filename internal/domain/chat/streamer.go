package chat

import (
	"context"
	"errors"

	"orgai/services/chat-api/internal/domain/conversation"
	"orgai/services/chat-api/internal/domain/pricing"
)

// ErrContentFiltered is returned by a streamer when the provider rejected
// the request or cut the completion for content reasons. Any usage the
// provider reported before the cut is still returned alongside it.
var ErrContentFiltered = errors.New("completion rejected by provider content filter")

// EventType discriminates streaming events.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventToolStarted   EventType = "tool_started"
	EventToolCompleted EventType = "tool_completed"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
)

// Event is one unit of streaming progress.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text,omitempty"`
	Tool string    `json:"tool,omitempty"`
}

// Sink receives streaming events as they arrive.
type Sink func(Event)

// CompletionRequest describes one provider call.
type CompletionRequest struct {
	Model            string
	Instructions     string
	Temperature      float32
	ReasoningEffort  string
	WebSearchEnabled bool
	Turns            []conversation.Turn
}

// StreamResult is the outcome of a finished stream.
type StreamResult struct {
	Text  string
	Usage pricing.Usage
}

// CompletionStreamer produces streamed completions and short summaries.
type CompletionStreamer interface {
	// Stream runs the completion, pushing events into sink as they
	// arrive. On ErrContentFiltered the result still carries any usage
	// the provider reported.
	Stream(ctx context.Context, req CompletionRequest, sink Sink) (StreamResult, error)

	// Summarise produces a short title for the given text.
	Summarise(ctx context.Context, model, text string) (string, pricing.Usage, error)
}
