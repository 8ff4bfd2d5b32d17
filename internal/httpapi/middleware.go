package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cobblepod/internal/authtoken"
)

const deviceUUIDKey = "device_uuid"

// BearerAuthMiddleware validates the HS256 access token and stashes the
// bound device_uuid in the request context for downstream handlers.
func BearerAuthMiddleware(issuer *authtoken.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			slog.Warn("missing authorization header", "path", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing authorization header"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid authorization header format"})
			c.Abort()
			return
		}

		deviceUUID, err := issuer.Verify(tokenString)
		if err != nil {
			slog.Warn("access token verification failed", "error", err, "path", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(deviceUUIDKey, deviceUUID)
		c.Next()
	}
}

// DeviceUUID is a helper to fetch the authenticated device UUID from
// context (use after BearerAuthMiddleware).
func DeviceUUID(c *gin.Context) string {
	v, _ := c.Get(deviceUUIDKey)
	s, _ := v.(string)
	return s
}

// InternalAuthMiddleware gates the ingestion-to-catalogue upload
// endpoints with a shared secret header, since they are called
// service-to-service and never carry a device-bound bearer token.
func InternalAuthMiddleware(expectedKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedKey == "" || c.GetHeader("X-Internal-Key") != expectedKey {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid internal key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
