// Package middleware provides gin middleware for the HTTP API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"treasure-hunt/internal/auth"
)

const (
	contextClaimsKey   = "jwtClaims"
	contextDeviceIDKey = "deviceID"

	// DeviceIDHeader carries the device identity used by the daily cap.
	DeviceIDHeader = "X-Device-ID"

	maxDeviceIDLength = 128
)

// JWT authenticates the request from its "Authorization: Bearer" header
// and stores the parsed claims for the handlers. Any failure is a 401.
func JWT(manager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}
		claims, err := manager.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireRole lets the request through only when JWT stored claims with
// the given role. It must run after JWT.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		switch {
		case claims == nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		case claims.Role != role:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		default:
			c.Next()
		}
	}
}

// ClaimsFromContext returns the claims stored by JWT, or nil.
func ClaimsFromContext(c *gin.Context) *auth.Claims {
	value, ok := c.Get(contextClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*auth.Claims)
	return claims
}

// DeviceID reads the X-Device-ID header into the context. Missing is
// allowed here; handlers that need a device decide for themselves.
func DeviceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(DeviceIDHeader))
		if len(id) > maxDeviceIDLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "device id too long"})
			return
		}
		if id != "" {
			c.Set(contextDeviceIDKey, id)
		}
		c.Next()
	}
}

// DeviceIDFromContext returns the device id set by DeviceID, or "".
func DeviceIDFromContext(c *gin.Context) string {
	return c.GetString(contextDeviceIDKey)
}
