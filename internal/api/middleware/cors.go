package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupCORS configures CORS middleware for the monitor and prover RPC
// surfaces. Both expose read-mostly coordination endpoints meant to be
// called from arbitrary dashboards and watcher scripts, so an empty
// allowedOrigins list keeps the surface open; a non-empty list (server.
// allowed_origins) restricts it to that origin set.
func SetupCORS(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}
