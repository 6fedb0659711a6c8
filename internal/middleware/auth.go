package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/trackfeedback/api/internal/auth"
	"github.com/trackfeedback/api/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	authn *auth.Authenticator
}

// NewAuthMiddleware creates a new auth middleware with Zitadel JWKS verification
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{authn: auth.NewAuthenticator(verifier, "")}
}

// NewAuthMiddlewareWithFallback creates auth middleware with both JWKS and legacy HMAC support
func NewAuthMiddlewareWithFallback(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{authn: auth.NewAuthenticator(verifier, jwtSecret)}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{authn: auth.NewAuthenticator(nil, jwtSecret)}
}

// AccessTokenParam carries the token on render progress subscriptions, where
// browsers cannot set an Authorization header.
const AccessTokenParam = "access_token"

// BearerToken extracts the token of a "Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Authenticate validates JWT token from Authorization header. WebSocket
// upgrades may pass it as the access_token query parameter instead.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			if token := c.Query(AccessTokenParam); token != "" && websocket.IsWebSocketUpgrade(c) {
				header = "Bearer " + token
			}
		}
		if header == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		tokenString, ok := BearerToken(header)
		if !ok {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		p, err := m.authn.Authenticate(tokenString)
		if errors.Is(err, auth.ErrNotConfigured) {
			return response.Unauthorized(c, "Authentication not configured")
		}
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		setPrincipal(c, p)
		return c.Next()
	}
}

func setPrincipal(c *fiber.Ctx, p auth.Principal) {
	c.Locals("userId", p.UserID)
	c.Locals("email", p.Email)
	c.Locals("name", p.Name)
	c.Locals("roles", p.Roles)
}

// RequireRole rejects callers holding none of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !GetPrincipal(c).HasRole(roles...) {
			return response.Forbidden(c, "Insufficient permissions")
		}
		return c.Next()
	}
}

// GetPrincipal rebuilds the authenticated caller from context locals
func GetPrincipal(c *fiber.Ctx) auth.Principal {
	roles, _ := c.Locals("roles").([]string)
	return auth.Principal{
		UserID: GetUserID(c),
		Email:  GetUserEmail(c),
		Name:   GetUserName(c),
		Roles:  roles,
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GetUserName extracts user name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals("name").(string); ok {
		return name
	}
	return ""
}

// GenerateToken creates a new legacy JWT token (useful for testing)
func (m *AuthMiddleware) GenerateToken(userID, email string, roles ...string) (string, error) {
	secret := m.authn.LegacySecret()
	if secret == "" {
		return "", jwt.ErrTokenNotValidYet
	}
	return auth.IssueLegacyToken(secret, userID, email, roles, 24*time.Hour)
}
