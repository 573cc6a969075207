package api

import (
	"errors"

	"github.com/edumatch/messaging/internal/apperr"
	"github.com/gofiber/fiber/v2"
)

func JSONSuccess(c *fiber.Ctx, status int, payload interface{}) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": payload})
}

func JSONError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// writeErr maps sentinel errors to a status. Unknown errors are not echoed
// back to the caller.
func writeErr(c *fiber.Ctx, err error) error {
	status := apperr.Status(err)
	if status == fiber.StatusInternalServerError {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return JSONError(c, fe.Code, fe.Message)
		}
		return JSONError(c, status, "internal error")
	}
	return JSONError(c, status, err.Error())
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

// CallerID is the authenticated user id, for keying per-user limits.
func CallerID(c *fiber.Ctx) string { return userID(c) }

func userRole(c *fiber.Ctx) string {
	role, _ := c.Locals("role").(string)
	return role
}
