package middleware

import (
	"net/http"
	"strings"

	"authservice/internal/pkg/jwt"
	"authservice/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuth.
const (
	ContextUserID   = "user_id"
	ContextIssuedAt = "iat"
)

// AccessTokenVerifier is satisfied by *jwt.Service and *auth.Service.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

// JWTAuth requires a valid access token in the Authorization header and puts
// the user id and issue time into the gin context.
func JWTAuth(verifier AccessTokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header is required")
			c.Abort()
			return
		}

		token, ok := BearerToken(authHeader)
		if !ok {
			response.Error(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			c.Abort()
			return
		}

		claims, err := verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID())
		if claims.IssuedAt != nil {
			c.Set(ContextIssuedAt, claims.IssuedAt.Time)
		}
		c.Next()
	}
}

// BearerToken extracts the credential from an "Authorization: Bearer x" value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
