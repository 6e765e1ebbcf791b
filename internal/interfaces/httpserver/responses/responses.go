package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"orgai/services/chat-api/internal/infrastructure/logger"
	"orgai/services/chat-api/internal/utils/platformerrors"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Error writes a platform error as JSON with the mapped status code.
// Unknown errors become opaque 500s.
func Error(c *gin.Context, err error) {
	var platformErr *platformerrors.PlatformError
	if errors.As(err, &platformErr) {
		platformerrors.LogError(logger.GetLogger(), platformErr)
		status := platformerrors.ErrorTypeToHTTPStatus(platformErr.Type)
		body := ErrorBody{
			Error:     platformErr.Message,
			Code:      string(platformErr.Type),
			RequestID: platformErr.RequestID,
		}
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
		c.JSON(status, body)
		return
	}

	log := logger.GetLogger()
	log.Error().Err(err).Msg("unhandled error")
	c.JSON(http.StatusInternalServerError, ErrorBody{Error: "internal error"})
}
