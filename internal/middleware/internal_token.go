package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"authservice/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// InternalTokenAuth protects operational endpoints such as /metrics with a
// static bearer token and a client IP allowlist. An empty allowedIPs admits
// every address; an empty token leaves only the IP check.
func InternalTokenAuth(token string, allowedIPs []string, log *slog.Logger) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if len(allowed) > 0 && !allowed[c.ClientIP()] {
			logAuthFailure(c, log, http.StatusForbidden, "ip_not_allowed")
			response.Error(c, http.StatusForbidden, "AUTH_INVALID", "IP not allowed")
			c.Abort()
			return
		}
		if token == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logAuthFailure(c, log, http.StatusUnauthorized, "missing_auth")
			response.Error(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header is required")
			c.Abort()
			return
		}

		presented, ok := BearerToken(authHeader)
		if !ok {
			logAuthFailure(c, log, http.StatusUnauthorized, "invalid_auth_format")
			response.Error(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			logAuthFailure(c, log, http.StatusForbidden, "invalid_token")
			response.Error(c, http.StatusForbidden, "AUTH_INVALID", "Invalid internal token")
			c.Abort()
			return
		}

		c.Next()
	}
}

func logAuthFailure(c *gin.Context, log *slog.Logger, status int, reason string) {
	log.WarnContext(c.Request.Context(), "internal_auth_failed",
		"status", status,
		"path", c.Request.URL.Path,
		"client_ip", c.ClientIP(),
		"request_id", requestID(c),
		"reason", reason,
	)
}
