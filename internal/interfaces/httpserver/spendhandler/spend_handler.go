package spendhandler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"orgai/services/chat-api/internal/config"
	"orgai/services/chat-api/internal/domain/spend"
	"orgai/services/chat-api/internal/interfaces/httpserver/middlewares"
	"orgai/services/chat-api/internal/interfaces/httpserver/responses"
	"orgai/services/chat-api/internal/utils/platformerrors"
)

// SpendHandler reports the caller's weekly spend position.
type SpendHandler struct {
	catalog *config.Catalog
	ledger  *spend.Ledger
}

// NewSpendHandler creates the spend handler.
func NewSpendHandler(catalog *config.Catalog, ledger *spend.Ledger) *SpendHandler {
	return &SpendHandler{catalog: catalog, ledger: ledger}
}

// PositionBody is the GET spend response.
type PositionBody struct {
	WeekStart string `json:"week_start"`
	Spent     string `json:"spent"`
	Limit     string `json:"limit"`
}

// Get returns the caller's spend for the current week against their group
// limit.
func (h *SpendHandler) Get(c *gin.Context) {
	email := middlewares.UserEmailFromContext(c)
	group, ok := h.catalog.GroupForUser(email)
	if !ok {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeForbidden, "user does not belong to any group", nil, ""))
		return
	}

	spent, err := h.ledger.GetSpend(c.Request.Context(), email)
	if err != nil {
		responses.Error(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "load spend"))
		return
	}

	c.JSON(http.StatusOK, PositionBody{
		WeekStart: spend.CurrentWeekStart(time.Now()),
		Spent:     spent.String(),
		Limit:     group.UserMaxWeeklySpend.String(),
	})
}
