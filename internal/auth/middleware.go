package auth

import (
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

// JWTMiddleware requires a bearer token signed with secret. Requests for which skip returns true
// pass through unchecked.
func JWTMiddleware(secret string, skip func(c *fiber.Ctx) bool) fiber.Handler {
	return jwtware.New(jwtware.Config{
		Filter:     skip,
		SigningKey: jwtware.SigningKey{Key: []byte(secret)},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "invalid or expired token",
			})
		},
	})
}

// QueryToken validates the "token" query parameter, for clients such as browsers opening a
// WebSocket that cannot set headers.
func QueryToken(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "missing token"})
		}
		subject, err := ParseToken(secret, token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "invalid token"})
		}
		c.Locals("subject", subject)
		return c.Next()
	}
}
