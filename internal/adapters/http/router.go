package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/adapters/signal"
	"github.com/dkeye/Mirror/internal/app/relay"
	"github.com/dkeye/Mirror/internal/config"
	"github.com/dkeye/Mirror/internal/domain"
)

// SetupRouter wires the signaling WebSocket and the read-only session API.
// - GET /api/ws/signal upgrades to the relay transport
// - GET /api/sessions[/:id] reports registry state
// - GET /healthz
func SetupRouter(ctx context.Context, cfg *config.Config, r *relay.Relay) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if cfg.Mode == "debug" {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "Signaling server is healthy.")
	})

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")

	api := router.Group("/api")

	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": r.Sessions()})
	})

	api.GET("/sessions/:id", func(c *gin.Context) {
		info, ok := r.Session(domain.SessionID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	ctrl := signal.NewSignalWSController(r, signal.SettingsFrom(cfg))
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	return router
}
