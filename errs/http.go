package errs

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// WriteFiber writes e as a JSON error body with its registered status.
func (e *Error) WriteFiber(c *fiber.Ctx) error {
	return c.Status(e.HTTPStatus).JSON(e)
}

// HandleFiber maps any error to a JSON response: a registered *Error
// uses its own kind and status, anything else is reported as a
// generic 500 without a registered kind.
func HandleFiber(c *fiber.Ctx, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.WriteFiber(c)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   err.Error(),
		"message": "internal error",
	})
}
