package router

import (
	"net/http"
	"time"

	"postroom/internal/common"
	"postroom/internal/config"
	"postroom/internal/domain/notification"
	"postroom/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New creates and configures the Gin router with all middleware and routes.
// gatherer backs GET /metrics; pass nil to omit the endpoint.
func New(
	cfg *config.Config,
	rateLimiter *middleware.RateLimiter,
	notificationHandler *notification.Handler,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Global middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
		time.Duration(cfg.CORS.MaxAgeSec)*time.Second,
	))

	// Operational routes are not rate limited
	r.GET("/health", healthCheck)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	if rateLimiter != nil {
		api.Use(rateLimiter.Middleware())
	}
	notificationHandler.RegisterRoutes(api)

	r.NoRoute(func(c *gin.Context) {
		common.Error(c, http.StatusNotFound, "route not found")
	})

	return r
}

// healthCheck handles GET /health
func healthCheck(c *gin.Context) {
	common.Success(c, http.StatusOK, gin.H{
		"status":  "ok",
		"service": "postroom",
	})
}
