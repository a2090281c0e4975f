package middleware

import (
	"errors"
	"strings"

	"github.com/Rifat-Hossain49/MediMitro-sub001/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

var (
	ErrMissingToken       = errors.New("missing authorization token")
	ErrMalformedAuthToken = errors.New("invalid authorization header format")
)

// AuthRequired verifies the bearer token and stores the caller's id and role
// in c.Locals("user_id") and c.Locals("role").
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := BearerToken(c, false)
		if err != nil {
			message := "Missing authorization header"
			if errors.Is(err, ErrMalformedAuthToken) {
				message = "Invalid authorization header format"
			}
			return unauthorized(c, message)
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}

// BearerToken reads the token from the Authorization header. Browsers cannot
// set headers on a websocket handshake, so allowQuery also accepts ?token=.
func BearerToken(c *fiber.Ctx, allowQuery bool) (string, error) {
	if allowQuery {
		if token := strings.TrimSpace(c.Query("token")); token != "" {
			return token, nil
		}
	}

	authHeader := strings.TrimSpace(c.Get("Authorization"))
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedAuthToken
	}
	return parts[1], nil
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}
