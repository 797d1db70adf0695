package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nail-dp-dev/naildp-realtime/pkg/jwt"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
	"github.com/nail-dp-dev/naildp-realtime/pkg/response"
)

const (
	UserIDKey     = "user_id"
	NicknameKey   = "nickname"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "

	// EventSource and browser WebSocket clients cannot set headers.
	TokenQueryKey = "access_token"
)

// TokenValidator validates access tokens.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates JWT access tokens issued by the platform.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth returns a Gin middleware that validates the access token and
// stores the caller identity in the context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := extractToken(c)
		if !ok {
			response.Unauthorized(c, "missing access token")
			return
		}

		claims, err := m.validator.Validate(token)
		if err != nil {
			msg := "invalid access token"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "access token expired"
			}
			response.Unauthorized(c, msg)
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(NicknameKey, claims.Nickname)

		ctx := pkglog.With(c.Request.Context(), pkglog.FieldNickname, claims.Nickname)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader(AuthHeaderKey); header != "" {
		if !strings.HasPrefix(header, BearerPrefix) {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
		return token, token != ""
	}
	if token := c.Query(TokenQueryKey); token != "" {
		return token, true
	}
	return "", false
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetNickname extracts the caller nickname from Gin context.
func GetNickname(c *gin.Context) string {
	return c.GetString(NicknameKey)
}
