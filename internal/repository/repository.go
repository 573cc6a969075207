package repository

import (
	"context"
	"time"

	"github.com/edumatch/messaging/internal/apperr"
	"github.com/edumatch/messaging/internal/domain"
)

// ErrNotFound aliases the shared sentinel so callers can match either.
var ErrNotFound = apperr.ErrNotFound

// LastMessage is the denormalised summary written onto a thread whenever
// a message is created.
type LastMessage struct {
	Content     *string
	SenderID    string
	SenderName  string
	SenderImage *string
	FileURL     *string
	MimeType    *string
	At          time.Time
}

type ThreadRepository interface {
	// FindOrCreate inserts t unless a thread for the same pair exists and
	// returns the stored thread. created is false when it already existed.
	FindOrCreate(ctx context.Context, t *domain.Thread) (thread *domain.Thread, created bool, err error)
	Get(ctx context.Context, id string) (*domain.Thread, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Thread, error)
	// ApplyMessage overwrites the last-message fields and increments the
	// unread count of recipientID only.
	ApplyMessage(ctx context.Context, threadID, recipientID string, lm LastMessage) (*domain.Thread, error)
	ClearUnread(ctx context.Context, threadID, userID string) (*domain.Thread, error)
}

type MessageRepository interface {
	Insert(ctx context.Context, m *domain.Message) error
	Get(ctx context.Context, id string) (*domain.Message, error)
	// ListByThread returns messages oldest first.
	ListByThread(ctx context.Context, threadID string) ([]domain.Message, error)
	// MarkRead flips is_read once. changed is false when it was already read.
	MarkRead(ctx context.Context, id string, at time.Time) (msg *domain.Message, changed bool, err error)
}

type NotificationRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	// Insert is a no-op returning false when a row with the same id exists.
	Insert(ctx context.Context, n *domain.Notification) (bool, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}
