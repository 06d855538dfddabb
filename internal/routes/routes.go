package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Cyvadra/tv-alert-relay/internal/handlers"
	"github.com/Cyvadra/tv-alert-relay/internal/logging"
	"github.com/Cyvadra/tv-alert-relay/internal/metrics"
)

// Options controls the optional endpoints
type Options struct {
	Service     string
	Version     string
	Metrics     *metrics.Metrics
	MetricsPath string
}

// SetupRoutes configures all the routes for the application
func SetupRoutes(r *gin.Engine, h *handlers.Handler, opts Options, logger zerolog.Logger) {
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))

	// API routes
	api := r.Group("/api/v1")
	{
		// TradingView webhook endpoint
		api.POST("/webhook/:accountId/:token", h.HandleWebhook)

		account := api.Group("/accounts/:accountId/:token")
		{
			account.GET("/alerts", h.GetAlerts)
			account.GET("/alerts/:alertId", h.GetAlert)
			account.GET("/usage", h.GetUsage)
			account.PUT("/notifications", h.UpdateNotifications)
			account.POST("/telegram/connect", h.ConnectTelegram)
			account.GET("/discord/status", h.DiscordStatus)
			account.POST("/discord/connect", h.ConnectDiscord)
			account.DELETE("/discord", h.DisconnectDiscord)
		}
	}

	endpoints := gin.H{
		"webhook":       "/api/v1/webhook/:accountId/:token",
		"alerts":        "/api/v1/accounts/:accountId/:token/alerts",
		"usage":         "/api/v1/accounts/:accountId/:token/usage",
		"notifications": "/api/v1/accounts/:accountId/:token/notifications",
		"discord":       "/api/v1/accounts/:accountId/:token/discord",
		"health":        "/health",
	}

	if opts.Metrics != nil && opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(opts.Metrics.Handler(logger)))
		endpoints["metrics"] = opts.MetricsPath
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": opts.Service,
		})
	})

	// Root endpoint
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":   "TradingView Alert Relay",
			"version":   opts.Version,
			"endpoints": endpoints,
		})
	})
}
