package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ErrorHandler renders every error returned by a handler as the JSON envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		message = fe.Message
	case errors.Is(err, gorm.ErrRecordNotFound):
		code = fiber.StatusNotFound
		message = "not found"
	default:
		slog.ErrorContext(c.UserContext(), "request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
	}

	return c.Status(code).JSON(fiber.Map{"success": false, "error": message})
}
