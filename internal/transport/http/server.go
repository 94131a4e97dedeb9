package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/staffchat-server/internal/auth"
	"github.com/vovakirdan/staffchat-server/internal/config"
	"github.com/vovakirdan/staffchat-server/internal/core"
)

// RosterPublisher spreads a roster invalidation to other nodes.
type RosterPublisher interface {
	PublishInvalidation(ctx context.Context, channelID int64) error
}

// NewServer builds the HTTP server: health, websocket endpoint and the
// operational API.
func NewServer(hub *core.Hub, authService *auth.Service, publisher RosterPublisher, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, cfg, logger)))

	ops := NewAPIHandlers(hub, publisher, logger)
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService, logger), RequirePrivileged())
	{
		api.GET("/stats", ops.Stats)
		api.GET("/presence", ops.Presence)
		api.POST("/alerts", ops.IssueAlert)
		api.POST("/news", ops.PublishNews)
		api.POST("/channels/:id/events", ops.PublishChannelEvent)
		api.POST("/channels/:id/invalidate", ops.InvalidateChannel)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
