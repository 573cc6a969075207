package api

import (
	"context"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Roles allowed to notify users other than themselves.
var notifyAnyoneRoles = map[string]bool{"admin": true, "service": true}

// queueNotification is the single entry point through which features
// submit notifications. Accepted envelopes are enqueued for the worker.
func (h *Handlers) queueNotification(c *fiber.Ctx) error {
	if h.sink == nil {
		return JSONError(c, fiber.StatusServiceUnavailable, "notification queue not configured")
	}
	var n domain.NotificationMessage
	if err := h.bind(c, &n); err != nil {
		return writeErr(c, err)
	}
	if !n.Type.Valid() {
		return JSONError(c, fiber.StatusBadRequest, "unknown notification type")
	}
	if n.UserID != userID(c) && !notifyAnyoneRoles[userRole(c)] {
		return JSONError(c, fiber.StatusForbidden, "cannot notify another user")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp == "" {
		n.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	if err := h.sink.Enqueue(ctx, n); err != nil {
		h.log.Errorw("enqueue notification failed", "id", n.ID, "type", n.Type, "error", err)
		return JSONError(c, fiber.StatusBadGateway, "failed to queue notification")
	}
	h.log.Infow("notification queued", "id", n.ID, "type", n.Type, "user_id", n.UserID)
	return JSONSuccess(c, fiber.StatusAccepted, fiber.Map{"id": n.ID})
}

func (h *Handlers) listNotifications(c *fiber.Ctx) error {
	if h.notifications == nil {
		return JSONSuccess(c, fiber.StatusOK, []domain.Notification{})
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	rows, err := h.notifications.ListForUser(ctx, userID(c), limit)
	if err != nil {
		return writeErr(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, rows)
}
