package api

import (
	"context"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/presence"
	"github.com/edumatch/messaging/internal/repository"
	"github.com/edumatch/messaging/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

type Messaging interface {
	CreateThread(ctx context.Context, callerID, participantID string) (*domain.Thread, bool, error)
	GetThread(ctx context.Context, callerID, threadID string) (*domain.Thread, error)
	GetThreads(ctx context.Context, callerID, userID string) ([]domain.Thread, error)
	GetMessages(ctx context.Context, callerID, threadID string) ([]domain.Message, error)
	CreateMessage(ctx context.Context, callerID string, in domain.NewMessage) (*domain.Message, error)
	MarkMessageRead(ctx context.Context, callerID, messageID string) (*domain.Message, error)
	ClearThreadUnreadCount(ctx context.Context, callerID, threadID string) (*domain.Thread, error)
}

type Uploader interface {
	PresignUpload(ctx context.Context, key, contentType string) (*storage.UploadURL, error)
}

type PresenceStore interface {
	Connect(ctx context.Context, userID, socketID string, ttl time.Duration) error
	Disconnect(ctx context.Context, userID, socketID string) error
	Get(ctx context.Context, userID string) (presence.Presence, error)
}

type NotificationSink interface {
	Enqueue(ctx context.Context, n domain.NotificationMessage) error
}

type Handlers struct {
	svc           Messaging
	uploads       Uploader
	presence      PresenceStore
	sink          NotificationSink
	notifications repository.NotificationRepository
	validate      *validator.Validate
	log           *zap.SugaredLogger
}

type createThreadRequest struct {
	ParticipantID string `json:"participantId" validate:"required,max=128"`
}

type sendMessageRequest struct {
	Content  *string `json:"content" validate:"omitempty,max=5000"`
	FileURL  *string `json:"fileUrl" validate:"omitempty,url"`
	FileName *string `json:"fileName" validate:"omitempty,max=255"`
	MimeType *string `json:"mimeType" validate:"omitempty,max=127"`
	FileSize *int64  `json:"fileSize" validate:"omitempty,gt=0"`
}

type uploadRequest struct {
	ThreadID string `json:"threadId" validate:"required"`
	FileName string `json:"fileName" validate:"required,max=255"`
	MimeType string `json:"mimeType" validate:"required"`
	FileSize int64  `json:"fileSize" validate:"required,gt=0"`
}

func (h *Handlers) bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := h.validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// me echoes the identity carried by the caller's token.
func (h *Handlers) me(c *fiber.Ctx) error {
	email, _ := c.Locals("email").(string)
	name, _ := c.Locals("name").(string)
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{
		"userId": userID(c),
		"email":  email,
		"name":   name,
		"role":   userRole(c),
	})
}

func (h *Handlers) createThread(c *fiber.Ctx) error {
	var req createThreadRequest
	if err := h.bind(c, &req); err != nil {
		return writeErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	t, created, err := h.svc.CreateThread(ctx, userID(c), req.ParticipantID)
	if err != nil {
		return writeErr(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return JSONSuccess(c, status, t)
}

func (h *Handlers) getThread(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	t, err := h.svc.GetThread(ctx, userID(c), c.Params("threadId"))
	if err != nil {
		return writeErr(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, t)
}

func (h *Handlers) listThreads(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	threads, err := h.svc.GetThreads(ctx, userID(c), c.Params("userId"))
	if err != nil {
		return writeErr(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, threads)
}

func (h *Handlers) listMessages(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	msgs, err := h.svc.GetMessages(ctx, userID(c), c.Params("threadId"))
	if err != nil {
		return writeErr(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, msgs)
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := h.bind(c, &req); err != nil {
		return writeErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	msg, err := h.svc.CreateMessage(ctx, userID(c), domain.NewMessage{
		ThreadID: c.Params("threadId"),
		Content:  req.Content,
		FileURL:  req.FileURL,
		FileName: req.FileName,
		MimeType: req.MimeType,
		FileSize: req.FileSize,
	})
	if err != nil {
		return writeErr(c, err)
	}
	return JSONSuccess(c, fiber.StatusCreated, msg)
}

func (h *Handlers) markRead(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	msg, err := h.svc.MarkMessageRead(ctx, userID(c), c.Params("messageId"))
	if err != nil {
		return writeErr(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, msg)
}

func (h *Handlers) clearUnread(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	t, err := h.svc.ClearThreadUnreadCount(ctx, userID(c), c.Params("threadId"))
	if err != nil {
		return writeErr(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, t)
}

// createUpload returns a presigned PUT URL; the client uploads directly
// and then sends a message carrying fileUrl.
func (h *Handlers) createUpload(c *fiber.Ctx) error {
	if h.uploads == nil {
		return JSONError(c, fiber.StatusServiceUnavailable, "uploads not configured")
	}
	var req uploadRequest
	if err := h.bind(c, &req); err != nil {
		return writeErr(c, err)
	}
	if req.FileSize > storage.MaxAttachmentSize {
		return JSONError(c, fiber.StatusRequestEntityTooLarge, "file too large")
	}
	if !storage.AllowedMime(req.MimeType) {
		return JSONError(c, fiber.StatusUnsupportedMediaType, "file type not allowed")
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	if _, err := h.svc.GetThread(ctx, userID(c), req.ThreadID); err != nil {
		return writeErr(c, err)
	}
	up, err := h.uploads.PresignUpload(ctx, storage.AttachmentKey(req.ThreadID, req.FileName), req.MimeType)
	if err != nil {
		h.log.Errorw("presign upload failed", "thread_id", req.ThreadID, "error", err)
		return JSONError(c, fiber.StatusBadGateway, "could not create upload url")
	}
	return JSONSuccess(c, fiber.StatusCreated, up)
}

func (h *Handlers) getPresence(c *fiber.Ctx) error {
	if h.presence == nil {
		return JSONSuccess(c, fiber.StatusOK, presence.Presence{UserID: c.Params("userId"), Status: domain.StatusOffline})
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	p, err := h.presence.Get(ctx, c.Params("userId"))
	if err != nil {
		h.log.Warnw("presence lookup failed", "user_id", c.Params("userId"), "error", err)
		return JSONError(c, fiber.StatusServiceUnavailable, "presence unavailable")
	}
	return JSONSuccess(c, fiber.StatusOK, p)
}
