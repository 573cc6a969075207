package api

import (
	"context"
	"time"

	"github.com/edumatch/messaging/internal/hub"
	"github.com/edumatch/messaging/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pingInterval  = 25 * time.Second
	writeDeadline = 10 * time.Second
	maxFrameSize  = 4096
	presenceTTL   = 24 * time.Hour
)

type subscribedFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// WSHandler pushes hub frames for one topic to one websocket.
type WSHandler struct {
	hub      *hub.Hub
	threads  Messaging
	presence PresenceStore
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

// upgrade validates the topic before the connection is upgraded.
func (w *WSHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	topic, ok := hub.ParseTopic(c.Query("topic"), userID(c))
	if !ok {
		return JSONError(c, fiber.StatusBadRequest, "invalid topic")
	}
	if threadID, ok := hub.ThreadOf(topic); ok && w.threads != nil {
		if _, err := w.threads.GetThread(c.UserContext(), userID(c), threadID); err != nil {
			return writeErr(c, err)
		}
	}
	c.Locals("topic", topic)
	return c.Next()
}

func (w *WSHandler) subscribe(c *websocket.Conn) {
	uid, _ := c.Locals("user_id").(string)
	topic, _ := c.Locals("topic").(string)

	client := hub.NewClient(uid, topic)
	socketID := uuid.NewString()
	w.hub.Add(client)
	if w.metrics != nil {
		w.metrics.Connections.Inc()
	}
	if w.presence != nil {
		if err := w.presence.Connect(context.Background(), uid, socketID, presenceTTL); err != nil {
			w.logger.Warnw("presence connect failed", "user_id", uid, "error", err)
		}
	}

	done := make(chan struct{})
	defer func() {
		close(done)
		w.hub.Remove(client)
		if w.metrics != nil {
			w.metrics.Connections.Dec()
		}
		if w.presence != nil {
			if err := w.presence.Disconnect(context.Background(), uid, socketID); err != nil {
				w.logger.Warnw("presence disconnect failed", "user_id", uid, "error", err)
			}
		}
		_ = c.Close()
	}()

	_ = c.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.WriteJSON(subscribedFrame{Type: "subscribed", Topic: topic}); err != nil {
		return
	}

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case b := <-client.Send:
				_ = c.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
					w.logger.Debugw("ws write failed", "user_id", uid, "error", err)
					_ = c.Close()
					return
				}
			case <-ticker.C:
				_ = c.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = c.Close()
					return
				}
			}
		}
	}()

	// Subscriptions are push only; reads just detect the close.
	c.SetReadLimit(maxFrameSize)
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
