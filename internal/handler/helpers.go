package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fdown/api/pkg/response"
)

// validationResponse maps validator failures onto the error taxonomy: URL
// field problems are invalid-URL, format and quality problems are
// unsupported-format, anything else is a generic validation error.
func validationResponse(c *fiber.Ctx, err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return response.ValidationError(c, "Validation failed", nil)
	}

	fields := make(map[string]string)
	for _, e := range validationErrors {
		fields[e.Field()] = e.Tag()
	}

	for _, e := range validationErrors {
		switch e.Field() {
		case "URL":
			return response.InvalidURL(c, "A valid video URL is required")
		case "Format", "Quality":
			return response.UnsupportedFormat(c, "Requested format or quality is not supported")
		}
	}
	return response.ValidationError(c, "Validation failed", fields)
}
