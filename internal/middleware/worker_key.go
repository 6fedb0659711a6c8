package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/pkg/response"
)

// WorkerKey authenticates external render workers by a shared bearer key.
func WorkerKey(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := BearerToken(c.Get("Authorization"))
		if !ok {
			return response.Unauthorized(c, "Missing worker key")
		}
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			return response.Unauthorized(c, "Invalid worker key")
		}
		c.Locals("userId", "worker")
		return c.Next()
	}
}
