package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apierrors "github.com/nftseason/notifyd/internal/errors"
)

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequireAdmin validates the Authorization header against the server-held
// admin token. A missing header is 401, a wrong token 403, and an unset
// server-side token is a deployment error surfaced as 500.
func RequireAdmin(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apierrors.ErrorResponse{
				OK:      false,
				Error:   apierrors.ErrInternal,
				Message: "Server misconfigured: ADMIN_TOKEN is not set",
			})
			return
		}

		got := extractBearerToken(c.GetHeader("Authorization"))
		if got == "" {
			c.AbortWithStatusJSON(apierrors.ErrUnauthorizedError.HTTPStatus, apierrors.ErrUnauthorizedError.Response())
			return
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
			c.AbortWithStatusJSON(apierrors.ErrForbiddenError.HTTPStatus, apierrors.ErrForbiddenError.Response())
			return
		}

		c.Next()
	}
}

// LocalOnly rejects any request not originating from the loopback interface.
// Used by the notifications manager, which must never be exposed publicly.
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		host = strings.TrimPrefix(host, "::ffff:")
		if host != "127.0.0.1" && host != "::1" {
			c.AbortWithStatusJSON(http.StatusForbidden, apierrors.ErrorResponse{
				OK:      false,
				Error:   apierrors.ErrForbidden,
				Message: "Forbidden (local only)",
			})
			return
		}
		c.Next()
	}
}

// SameOriginOnly blocks cross-site origins while staying permissive for
// localhost dev: requests without an Origin header pass through.
func SameOriginOnly(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		for _, o := range allowed {
			if origin == o {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, apierrors.ErrorResponse{
			OK:      false,
			Error:   apierrors.ErrForbidden,
			Message: "Forbidden (bad origin)",
		})
	}
}

// RequireEditorToken checks the X-Editor-Token header against the manager
// token. noToken disables the check for local development.
func RequireEditorToken(token string, noToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if noToken {
			c.Next()
			return
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apierrors.ErrorResponse{
				OK:      false,
				Error:   apierrors.ErrInternal,
				Message: "Missing EDITOR_TOKEN in environment",
			})
			return
		}
		got := strings.TrimSpace(c.GetHeader("X-Editor-Token"))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierrors.ErrorResponse{
				OK:      false,
				Error:   apierrors.ErrUnauthorized,
				Message: "Unauthorized (missing/invalid token header)",
			})
			return
		}
		c.Next()
	}
}

// CORS configures CORS headers
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, o := range allowedOrigins {
			if o == origin || o == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			c.Header("Access-Control-Max-Age", "43200") // 12 hours
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// extractBearerToken extracts the token from a Bearer authorization header
func extractBearerToken(authHeader string) string {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}
