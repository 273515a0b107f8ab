package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// UserIDHeader carries the caller identity, injected by the gateway in
	// front of this service. The service trusts it (internal network).
	UserIDHeader = "X-User-Id"

	// Context keys
	UserIDKey = "user-id"
)

// AuthMiddleware extracts the caller identity from the request headers.
// Every repository access downstream is scoped by this identity.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			log.Println("Warning: no X-User-Id header found, using anonymous")
			userID = "anonymous"
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// GetUserID retrieves the caller identity from the Gin context
func GetUserID(c *gin.Context) string {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "anonymous"
	}
	return userID.(string)
}

// CORSMiddleware handles CORS for the dashboard frontend
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, "+
				"Authorization, accept, origin, Cache-Control, X-Requested-With, "+
				UserIDHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods",
			"POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
