package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds allowed origins for cross-origin requests.
type CORSConfig struct {
	AllowedOrigins  []string
	AllowAllOrigins bool
}

// CORS returns a middleware that handles cross-origin resource sharing.
func CORS(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		var allowedOrigin string
		switch {
		case config.AllowAllOrigins:
			allowedOrigin = "*"
			// Credentials are incompatible with a wildcard origin.
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "false")
		default:
			for _, o := range config.AllowedOrigins {
				if origin == o || o == "*" {
					allowedOrigin = origin
					break
				}
			}
			if allowedOrigin == "" && len(config.AllowedOrigins) > 0 {
				c.Next()
				return
			}
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if allowedOrigin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
