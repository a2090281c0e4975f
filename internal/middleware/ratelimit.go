package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimiter keys on the authenticated user when present and on the client
// IP otherwise.
func RateLimiter(max int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
				return "user:" + userID
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later",
			})
		},
	})
}

// SendRateLimiter covers message sends. It leaves room for a burst of typing
// but stops scripted floods.
func SendRateLimiter() fiber.Handler {
	return RateLimiter(60, time.Minute)
}

func UploadRateLimiter() fiber.Handler {
	return RateLimiter(10, 5*time.Minute)
}
