package presethandler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orgai/services/chat-api/internal/config"
	"orgai/services/chat-api/internal/interfaces/httpserver/middlewares"
	"orgai/services/chat-api/internal/interfaces/httpserver/responses"
	"orgai/services/chat-api/internal/utils/functional"
	"orgai/services/chat-api/internal/utils/platformerrors"
)

// PresetHandler exposes the presets the caller may start conversations
// from.
type PresetHandler struct {
	catalog *config.Catalog
}

// NewPresetHandler creates the preset handler.
func NewPresetHandler(catalog *config.Catalog) *PresetHandler {
	return &PresetHandler{catalog: catalog}
}

// PresetBody is one preset as shown to clients. Instructions stay server
// side.
type PresetBody struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	Introduction string `json:"introduction"`
	Model        string `json:"model"`
}

// List returns the caller's group presets.
func (h *PresetHandler) List(c *gin.Context) {
	group, ok := h.catalog.GroupForUser(middlewares.UserEmailFromContext(c))
	if !ok {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeForbidden, "user does not belong to any group", nil, ""))
		return
	}

	body := functional.Map(group.Presets, func(p config.Preset) PresetBody {
		return PresetBody{
			ID:           p.ID,
			Title:        p.Title,
			Category:     p.Category,
			Introduction: p.Introduction,
			Model:        p.Model,
		}
	})
	c.JSON(http.StatusOK, gin.H{"presets": body})
}
