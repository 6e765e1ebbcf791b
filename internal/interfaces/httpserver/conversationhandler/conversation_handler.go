package conversationhandler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"orgai/services/chat-api/internal/domain/conversation"
	"orgai/services/chat-api/internal/interfaces/httpserver/middlewares"
	"orgai/services/chat-api/internal/interfaces/httpserver/responses"
	"orgai/services/chat-api/internal/utils/platformerrors"
)

// ConversationHandler serves conversation listing, retrieval and deletion.
type ConversationHandler struct {
	store conversation.Store
}

// NewConversationHandler creates the conversation handler.
func NewConversationHandler(store conversation.Store) *ConversationHandler {
	return &ConversationHandler{store: store}
}

// SummaryBody is one listing entry.
type SummaryBody struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Cost      string    `json:"cost"`
	Flagged   bool      `json:"flagged"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnBody is one transcript turn.
type TurnBody struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Images    []string  `json:"images,omitempty"`
	Files     []string  `json:"files,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationBody is the full conversation response.
type ConversationBody struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	PresetID  string     `json:"preset_id"`
	Cost      string     `json:"cost"`
	Flagged   bool       `json:"flagged"`
	Turns     []TurnBody `json:"turns"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// List returns the caller's conversations, newest first.
func (h *ConversationHandler) List(c *gin.Context) {
	summaries, err := h.store.List(c.Request.Context(), middlewares.UserEmailFromContext(c))
	if err != nil {
		responses.Error(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "list conversations"))
		return
	}

	body := make([]SummaryBody, len(summaries))
	for i, s := range summaries {
		body[i] = SummaryBody{
			ID:        s.PublicID,
			Title:     s.Title,
			Cost:      s.Cost.String(),
			Flagged:   s.Flagged,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": body})
}

// Get returns one conversation with its transcript.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, found, err := h.store.Get(c.Request.Context(), middlewares.UserEmailFromContext(c), c.Param("id"))
	if err != nil {
		responses.Error(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "load conversation"))
		return
	}
	if !found {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeNotFound, "conversation not found", nil, ""))
		return
	}

	turns := make([]TurnBody, len(conv.Document.Turns))
	for i, t := range conv.Document.Turns {
		text := t.Text
		if t.Role == conversation.RoleAssistant && text == conversation.FlagSentinel {
			text = conversation.FlagMessage
		}
		turns[i] = TurnBody{
			Role:      t.Role,
			Text:      text,
			Images:    t.Images,
			Files:     t.Files,
			CreatedAt: t.CreatedAt,
		}
	}

	c.JSON(http.StatusOK, ConversationBody{
		ID:        conv.PublicID,
		Title:     conv.Title,
		PresetID:  conv.Document.PresetID,
		Cost:      conv.Cost.String(),
		Flagged:   conv.Flagged,
		Turns:     turns,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	})
}

// Delete soft-deletes a conversation.
func (h *ConversationHandler) Delete(c *gin.Context) {
	found, err := h.store.SoftDelete(c.Request.Context(), middlewares.UserEmailFromContext(c), c.Param("id"))
	if err != nil {
		responses.Error(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "delete conversation"))
		return
	}
	if !found {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeNotFound, "conversation not found", nil, ""))
		return
	}
	c.Status(http.StatusNoContent)
}
