package reviewhandler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"orgai/services/chat-api/internal/config"
	"orgai/services/chat-api/internal/domain/review"
	"orgai/services/chat-api/internal/domain/spend"
	"orgai/services/chat-api/internal/interfaces/httpserver/middlewares"
	"orgai/services/chat-api/internal/interfaces/httpserver/responses"
	"orgai/services/chat-api/internal/utils/platformerrors"
)

// ReviewHandler serves the reviewer surface: the pending queue, entry
// resolution and spend credits.
type ReviewHandler struct {
	catalog *config.Catalog
	queue   review.Queue
	ledger  *spend.Ledger
}

// NewReviewHandler creates the review handler.
func NewReviewHandler(catalog *config.Catalog, queue review.Queue, ledger *spend.Ledger) *ReviewHandler {
	return &ReviewHandler{catalog: catalog, queue: queue, ledger: ledger}
}

// EntryBody is one pending review entry.
type EntryBody struct {
	ConversationID string    `json:"conversation_id"`
	UserEmail      string    `json:"user_email"`
	Title          string    `json:"title"`
	Flagged        bool      `json:"flagged"`
	Score          float64   `json:"score"`
	CreatedAt      time.Time `json:"created_at"`
}

// reviewerGroup resolves the caller's group and checks reviewer
// membership.
func (h *ReviewHandler) reviewerGroup(c *gin.Context) (*config.UserGroup, bool) {
	email := middlewares.UserEmailFromContext(c)
	group, ok := h.catalog.GroupForUser(email)
	if !ok || !group.IsReviewer(email) {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeForbidden, "reviewer access required", nil, ""))
		return nil, false
	}
	return group, true
}

// List returns the caller's group queue, oldest first.
func (h *ReviewHandler) List(c *gin.Context) {
	group, ok := h.reviewerGroup(c)
	if !ok {
		return
	}

	entries, err := h.queue.List(c.Request.Context(), group.Name)
	if err != nil {
		responses.Error(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "list review queue"))
		return
	}

	body := make([]EntryBody, len(entries))
	for i, e := range entries {
		body[i] = EntryBody{
			ConversationID: e.ConversationID,
			UserEmail:      e.UserEmail,
			Title:          e.Title,
			Flagged:        e.Flagged,
			Score:          e.Score,
			CreatedAt:      e.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": body})
}

// Resolve removes a conversation from the queue. Resolving twice is fine;
// the second call reports resolved false.
func (h *ReviewHandler) Resolve(c *gin.Context) {
	group, ok := h.reviewerGroup(c)
	if !ok {
		return
	}

	found, err := h.queue.Resolve(c.Request.Context(), group.Name, c.Param("conversation_id"))
	if err != nil {
		responses.Error(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "resolve review entry"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": found})
}

// CreditRequestBody is the POST credit payload.
type CreditRequestBody struct {
	UserEmail string `json:"user_email" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

// Credit grants a member extra headroom for the current week by recording
// negative spend. The target must belong to the reviewer's group.
func (h *ReviewHandler) Credit(c *gin.Context) {
	group, ok := h.reviewerGroup(c)
	if !ok {
		return
	}

	var body CreditRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeValidation, "invalid request body", err, ""))
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || !amount.IsPositive() {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeValidation, "amount must be a positive decimal", err, ""))
		return
	}

	target, ok := h.catalog.GroupForUser(body.UserEmail)
	if !ok || target.Name != group.Name {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeForbidden, "user is not in your group", nil, ""))
		return
	}

	newTotal, err := h.ledger.RecordSpend(c.Request.Context(), body.UserEmail, group.Name, amount.Neg())
	if err != nil {
		responses.Error(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "record credit"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"credited": amount.String(), "spent": newTotal.String()})
}
