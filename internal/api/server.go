package api

import (
	"github.com/edumatch/messaging/internal/hub"
	"github.com/edumatch/messaging/internal/metrics"
	"github.com/edumatch/messaging/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Deps are the collaborators of the messaging API. Optional ones may be
// nil: the related endpoints then degrade instead of failing to start.
type Deps struct {
	Service       Messaging
	Validator     TokenValidator
	Hub           *hub.Hub
	Presence      PresenceStore
	Uploads       Uploader
	Sink          NotificationSink
	Notifications repository.NotificationRepository
	IPLimiter     *IPRateLimiter
	NotifyLimiter fiber.Handler
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Log           *zap.SugaredLogger
}

func NewServer(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "messaging-api",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(RequestLogger(d.Log))
	if d.Metrics != nil {
		app.Use(RequestMetrics(d.Metrics))
	}
	if d.IPLimiter != nil {
		app.Use(d.IPLimiter.Handler())
	}

	h := &Handlers{
		svc:           d.Service,
		uploads:       d.Uploads,
		presence:      d.Presence,
		sink:          d.Sink,
		notifications: d.Notifications,
		validate:      validator.New(),
		log:           d.Log,
	}
	ws := &WSHandler{hub: d.Hub, threads: d.Service, presence: d.Presence, metrics: d.Metrics, logger: d.Log}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(d.Gatherer)))
	}

	api := app.Group("/v1", JWTAuth(d.Validator))
	api.Get("/me", h.me)
	api.Post("/threads", h.createThread)
	api.Get("/threads/:threadId", h.getThread)
	api.Get("/users/:userId/threads", h.listThreads)
	api.Get("/threads/:threadId/messages", h.listMessages)
	api.Post("/threads/:threadId/messages", h.sendMessage)
	api.Post("/threads/:threadId/clear-unread", h.clearUnread)
	api.Post("/messages/:messageId/read", h.markRead)
	api.Post("/uploads", h.createUpload)
	api.Get("/presence/:userId", h.getPresence)
	api.Get("/notifications", h.listNotifications)
	if d.Hub != nil {
		api.Get("/ws", ws.upgrade, websocket.New(ws.subscribe))
	}

	notif := app.Group("/api/notifications", JWTAuth(d.Validator))
	if d.NotifyLimiter != nil {
		notif.Use(d.NotifyLimiter)
	}
	notif.Post("/queue", h.queueNotification)

	return app
}
