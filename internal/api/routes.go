package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/sponsor-access-sync/internal/webhook"
)

// SetupRoutes sets up the HTTP routes
func SetupRoutes(handler *Handler, webhooks *webhook.Handler, gatherer prometheus.Gatherer, logger zerolog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery(logger))
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// Provider webhooks
	hooks := router.Group("/webhooks")
	{
		hooks.POST("/sponsor/:owner", webhooks.Sponsorship)
	}

	return router
}
