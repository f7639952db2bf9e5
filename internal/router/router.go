package router

import (
	"net/http"
	"time"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/handler"
	"github.com/candorworks/exam-proctor/internal/metrics"
	"github.com/candorworks/exam-proctor/internal/middleware"
	"github.com/candorworks/exam-proctor/internal/response"
	"github.com/candorworks/exam-proctor/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Candidate *handler.CandidateHandler
	WS        *handler.WSHandler
	Monitor   *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	tokens *service.AttemptTokenService,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.OpsTokenHeader}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	// ─── 1. Candidate Group (Public, Rate Limited) ──────────────────────
	redeemLimiter := middleware.NewRateLimiter(cfg.RedeemRatePerMinute)

	candidate := router.Group("/api/v1/candidate")
	candidate.Use(middleware.NoStore())
	{
		candidate.POST("/redeem", redeemLimiter.Middleware(), handlers.Candidate.Redeem)
	}

	// ─── 2. WebSocket Group (Attempt Token) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAttemptToken(tokens))
	{
		ws.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Ops Group (Shared Token) ───────────────────────────────────
	ops := router.Group("/api/v1/ops")
	ops.Use(middleware.RequireOpsToken(cfg.OpsToken))
	{
		ops.GET("/attempts/:attempt_id/events", handlers.Monitor.ListEvents)
		ops.GET("/attempts/:attempt_id/monitor", handlers.Monitor.MonitorAttemptSSE)
	}

	return router
}
