package chathandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"orgai/services/chat-api/internal/domain/chat"
	"orgai/services/chat-api/internal/infrastructure/metrics"
	"orgai/services/chat-api/internal/interfaces/httpserver/middlewares"
	"orgai/services/chat-api/internal/interfaces/httpserver/responses"
	"orgai/services/chat-api/internal/interfaces/httpserver/streamhub"
	"orgai/services/chat-api/internal/utils/platformerrors"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// intermediaries.
const heartbeatInterval = 15 * time.Second

// ChatHandler serves turn processing and the event stream.
type ChatHandler struct {
	orchestrator *chat.Orchestrator
	hub          *streamhub.Hub
	logger       zerolog.Logger
}

// NewChatHandler creates the chat handler.
func NewChatHandler(orchestrator *chat.Orchestrator, hub *streamhub.Hub, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator, hub: hub, logger: logger}
}

// TurnRequestBody is the POST /v1/chat payload.
type TurnRequestBody struct {
	ConversationID string   `json:"conversation_id"`
	PresetID       string   `json:"preset_id"`
	Prompt         string   `json:"prompt"`
	Images         []string `json:"images"`
	Files          []string `json:"files"`
	InstanceID     string   `json:"instance_id"`
}

// TurnResponseBody is the POST /v1/chat response.
type TurnResponseBody struct {
	State              string `json:"state"`
	ConversationID     string `json:"conversation_id"`
	Title              string `json:"title"`
	Reply              string `json:"reply"`
	Cost               string `json:"cost"`
	WeeklyLimitReached bool   `json:"weekly_limit_reached"`
}

// PostTurn processes one user turn to completion. Streaming progress is
// delivered over the event stream; the response carries the settled
// outcome.
func (h *ChatHandler) PostTurn(c *gin.Context) {
	var body TurnRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeValidation, "invalid request body", err, ""))
		return
	}

	start := time.Now()
	outcome, err := h.orchestrator.ProcessTurn(c.Request.Context(), chat.TurnRequest{
		UserEmail:      middlewares.UserEmailFromContext(c),
		ConversationID: body.ConversationID,
		PresetID:       body.PresetID,
		Prompt:         body.Prompt,
		Images:         body.Images,
		Files:          body.Files,
		InstanceID:     body.InstanceID,
	})
	metrics.TurnDuration.Observe(time.Since(start).Seconds())

	if outcome != nil {
		metrics.TurnsTotal.WithLabelValues(string(outcome.State)).Inc()
	}

	// A settlement failure after a persisted turn still reports the turn;
	// the client sees the reply while the error is logged server side.
	if err != nil && outcome == nil {
		responses.Error(c, err)
		return
	}
	if err != nil {
		var platformErr *platformerrors.PlatformError
		if errors.As(err, &platformErr) {
			platformerrors.LogError(h.logger, platformErr)
		} else {
			h.logger.Error().Err(err).Msg("turn settled with error")
		}
	}

	c.JSON(http.StatusOK, TurnResponseBody{
		State:              string(outcome.State),
		ConversationID:     outcome.ConversationID,
		Title:              outcome.Title,
		Reply:              outcome.Reply,
		Cost:               outcome.Cost.String(),
		WeeklyLimitReached: outcome.WeeklyLimitReached,
	})
}

// StreamEvents serves the user's event stream over SSE. The client passes
// its instance ID with each turn request; only events of the active
// instance per conversation are delivered.
func (h *ChatHandler) StreamEvents(c *gin.Context) {
	flusher, ok := middlewares.PrepareSSE(c)
	if !ok {
		responses.Error(c, platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeInternal, "streaming unsupported by connection", nil, ""))
		return
	}

	userEmail := middlewares.UserEmailFromContext(c)
	events, cancel := h.hub.Subscribe(userEmail)
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error().Err(err).Msg("marshal stream event")
				continue
			}
			if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
