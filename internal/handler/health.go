package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fdown/api/internal/model"
)

// Health returns a handler for GET /health.
func Health(version string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(model.HealthResponse{
			Status:  "healthy",
			Version: version,
		})
	}
}
