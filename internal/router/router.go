package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/auth"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/config"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/handler"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/middleware"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Standup *handler.StandupHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	validator *auth.Validator,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session creation (10 slots per minute per IP).
	createLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ─── 1. Participant Group (JWT) ────────────────────────────────────
	participantAPI := router.Group("/api/v1/standup")
	participantAPI.Use(middleware.RequireParticipantJWT(validator))
	{
		participantAPI.POST("/sessions", createLimiter.Middleware(), handlers.Standup.CreateSession)
		participantAPI.GET("/sessions/:session_id", handlers.Standup.GetSession)
		participantAPI.GET("/sessions/:session_id/summary", handlers.Standup.GetSummary)
		participantAPI.POST("/sessions/:session_id/cancel", handlers.Standup.CancelSession)
	}

	// ─── 2. WebSocket Group (Participant WS Auth) ──────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireParticipantWSAuth(validator))
	{
		ws.GET("/standup/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Operator Group (JWT) ───────────────────────────────────────
	operatorAPI := router.Group("/api/v1/operator/standup")
	operatorAPI.Use(middleware.RequireOperatorJWT(validator))
	{
		operatorAPI.GET("/sessions", handlers.Standup.ListSessions)
		operatorAPI.GET("/sessions/:session_id/summary", handlers.Standup.GetSessionReport)
		operatorAPI.GET("/sessions/:session_id/violations", handlers.Standup.GetSessionViolations)
	}

	return router
}
