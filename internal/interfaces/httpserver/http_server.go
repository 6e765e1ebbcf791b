package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"orgai/services/chat-api/internal/config"
	"orgai/services/chat-api/internal/interfaces/httpserver/chathandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/conversationhandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/middlewares"
	"orgai/services/chat-api/internal/interfaces/httpserver/presethandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/reviewhandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/spendhandler"
)

// HTTPServer is the public API surface of the chat service.
type HTTPServer struct {
	engine *gin.Engine
	srv    *http.Server
}

// NewHTTPServer wires the routes and middleware chain.
func NewHTTPServer(
	cfg *config.Config,
	logger zerolog.Logger,
	chatHandler *chathandler.ChatHandler,
	conversationHandler *conversationhandler.ConversationHandler,
	presetHandler *presethandler.PresetHandler,
	reviewHandler *reviewhandler.ReviewHandler,
	spendHandler *spendhandler.SpendHandler,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middlewares.RequestID())
	engine.Use(middlewares.LoggingMiddleware(logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	v1 := engine.Group("/v1")
	v1.Use(middlewares.TrustedUser())
	{
		v1.POST("/chat", chatHandler.PostTurn)
		v1.GET("/chat/stream", chatHandler.StreamEvents)

		v1.GET("/presets", presetHandler.List)

		v1.GET("/conversations", conversationHandler.List)
		v1.GET("/conversations/:id", conversationHandler.Get)
		v1.DELETE("/conversations/:id", conversationHandler.Delete)

		v1.GET("/spend", spendHandler.Get)

		v1.GET("/reviews", reviewHandler.List)
		v1.POST("/reviews/:conversation_id/resolve", reviewHandler.Resolve)
		v1.POST("/reviews/credit", reviewHandler.Credit)
	}

	return &HTTPServer{
		engine: engine,
		srv: &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving until the server is shut down.
func (s *HTTPServer) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Engine exposes the router for tests.
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}
