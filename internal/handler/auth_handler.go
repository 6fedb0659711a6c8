package handler

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/internal/auth"
	"github.com/trackfeedback/api/internal/middleware"
)

// workerPrefix routes authenticate with the worker key in the backend.
const workerPrefix = "/api/worker/"

// AuthHandler answers Traefik ForwardAuth checks for the render API
type AuthHandler struct {
	authn *auth.Authenticator
}

// NewAuthHandler creates a new auth handler for ForwardAuth verification
func NewAuthHandler(authn *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authn: authn}
}

// Verify handles GET /auth/verify, called by Traefik ForwardAuth.
// Worker callbacks pass without identity headers. Render progress
// subscriptions may carry the token as access_token in the forwarded URI.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	forwarded, _ := url.Parse(c.Get("X-Forwarded-Uri"))
	if forwarded == nil {
		forwarded = &url.URL{}
	}
	if strings.HasPrefix(forwarded.Path, workerPrefix) {
		return c.SendStatus(fiber.StatusOK)
	}

	header := c.Get("Authorization")
	if header == "" && strings.HasPrefix(forwarded.Path, "/ws/renders/") {
		if token := forwarded.Query().Get(middleware.AccessTokenParam); token != "" {
			header = "Bearer " + token
		}
	}
	token, ok := middleware.BearerToken(header)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	p, err := h.authn.Authenticate(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	return forward(c, p)
}

func forward(c *fiber.Ctx, p auth.Principal) error {
	c.Set("X-User-Id", p.UserID)
	c.Set("X-User-Email", p.Email)
	c.Set("X-User-Name", p.Name)
	c.Set("X-User-Roles", strings.Join(p.Roles, ","))
	return c.SendStatus(fiber.StatusOK)
}
