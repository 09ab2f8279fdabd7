package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS returns a configured CORS middleware. An empty origin list allows any
// origin, which suits internal deployments behind a gateway.
func CORS(origins, methods, headers []string, maxAge time.Duration) gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  methods,
		AllowHeaders:  headers,
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        maxAge,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}
