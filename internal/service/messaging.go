package service

import (
	"context"
	"fmt"
	"time"

	"github.com/edumatch/messaging/internal/apperr"
	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/events"
	"github.com/edumatch/messaging/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserLookup resolves sender display data for the denormalised
// last-message fields.
type UserLookup interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

// NotificationSink accepts NEW_MESSAGE notifications for the recipient.
type NotificationSink interface {
	Enqueue(ctx context.Context, n domain.NotificationMessage) error
}

type MessagingService struct {
	threads  repository.ThreadRepository
	messages repository.MessageRepository
	bus      events.Bus
	users    UserLookup
	notify   NotificationSink
	log      *zap.SugaredLogger
	now      func() time.Time
}

type Option func(*MessagingService)

func WithUserLookup(u UserLookup) Option { return func(s *MessagingService) { s.users = u } }

func WithNotificationSink(n NotificationSink) Option {
	return func(s *MessagingService) { s.notify = n }
}

func WithClock(now func() time.Time) Option { return func(s *MessagingService) { s.now = now } }

func NewMessagingService(threads repository.ThreadRepository, messages repository.MessageRepository, bus events.Bus, log *zap.SugaredLogger, opts ...Option) *MessagingService {
	s := &MessagingService{
		threads:  threads,
		messages: messages,
		bus:      bus,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateThread returns the existing thread for the pair or creates it.
func (s *MessagingService) CreateThread(ctx context.Context, callerID, participantID string) (*domain.Thread, bool, error) {
	if callerID == "" {
		return nil, false, apperr.ErrAuthRequired
	}
	if participantID == "" || participantID == callerID {
		return nil, false, fmt.Errorf("%w: participant must be another user", apperr.ErrBadRequest)
	}

	now := s.now()
	t, created, err := s.threads.FindOrCreate(ctx, &domain.Thread{
		ID:           uuid.NewString(),
		User1ID:      callerID,
		User2ID:      participantID,
		UnreadCounts: map[string]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}
	if created {
		s.publish(ctx, events.ThreadCreated, t, nil)
	}
	view := t.ForViewer(callerID)
	return &view, created, nil
}

// GetThreads lists userID's threads, most recent first. Callers can only
// list their own threads.
func (s *MessagingService) GetThreads(ctx context.Context, callerID, userID string) ([]domain.Thread, error) {
	if callerID == "" {
		return nil, apperr.ErrAuthRequired
	}
	if callerID != userID {
		return nil, apperr.ErrForbidden
	}
	threads, err := s.threads.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	for i := range threads {
		threads[i] = threads[i].ForViewer(userID)
	}
	domain.SortThreads(threads)
	return threads, nil
}

// GetThread returns a thread the caller participates in.
func (s *MessagingService) GetThread(ctx context.Context, callerID, threadID string) (*domain.Thread, error) {
	t, err := s.participantThread(ctx, callerID, threadID)
	if err != nil {
		return nil, err
	}
	view := t.ForViewer(callerID)
	return &view, nil
}

func (s *MessagingService) GetMessages(ctx context.Context, callerID, threadID string) ([]domain.Message, error) {
	if _, err := s.participantThread(ctx, callerID, threadID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// CreateMessage stores the message, overwrites the thread's last-message
// fields and increments the unread count of the other participant only.
func (s *MessagingService) CreateMessage(ctx context.Context, callerID string, in domain.NewMessage) (*domain.Message, error) {
	if in.Empty() {
		return nil, fmt.Errorf("%w: message needs content or a file", apperr.ErrBadRequest)
	}
	t, err := s.participantThread(ctx, callerID, in.ThreadID)
	if err != nil {
		return nil, err
	}

	m := &domain.Message{
		ID:        uuid.NewString(),
		ThreadID:  t.ID,
		SenderID:  callerID,
		Content:   in.Content,
		FileURL:   in.FileURL,
		FileName:  in.FileName,
		MimeType:  in.MimeType,
		FileSize:  in.FileSize,
		CreatedAt: s.now(),
	}
	if err := s.messages.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	lm := repository.LastMessage{
		Content:  m.Content,
		SenderID: callerID,
		FileURL:  m.FileURL,
		MimeType: m.MimeType,
		At:       m.CreatedAt,
	}
	if s.users != nil {
		if u, err := s.users.Get(ctx, callerID); err == nil && u != nil {
			lm.SenderName = u.Name
			lm.SenderImage = domain.DisplayImage(u.Type, u.Image)
		} else if err != nil {
			s.log.Debugw("sender lookup failed", "user_id", callerID, "error", err)
		}
	}

	recipient := t.Other(callerID)
	updated, err := s.threads.ApplyMessage(ctx, t.ID, recipient, lm)
	if err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}

	s.publish(ctx, events.MessageCreated, updated, m)
	s.publish(ctx, events.ThreadUpdated, updated, nil)
	s.enqueueNewMessage(ctx, recipient, lm.SenderName, m)
	return m, nil
}

// MarkMessageRead flips the read flag once. The sender reading their own
// message is a no-op.
func (s *MessagingService) MarkMessageRead(ctx context.Context, callerID, messageID string) (*domain.Message, error) {
	if callerID == "" {
		return nil, apperr.ErrAuthRequired
	}
	m, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.participantThread(ctx, callerID, m.ThreadID); err != nil {
		return nil, err
	}
	if m.SenderID == callerID {
		return m, nil
	}
	updated, _, err := s.messages.MarkRead(ctx, messageID, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return updated, nil
}

// ClearThreadUnreadCount is the only path that lowers an unread count.
func (s *MessagingService) ClearThreadUnreadCount(ctx context.Context, callerID, threadID string) (*domain.Thread, error) {
	if _, err := s.participantThread(ctx, callerID, threadID); err != nil {
		return nil, err
	}
	t, err := s.threads.ClearUnread(ctx, threadID, callerID)
	if err != nil {
		return nil, fmt.Errorf("clear unread: %w", err)
	}
	s.publish(ctx, events.ThreadUpdated, t, nil)
	view := t.ForViewer(callerID)
	return &view, nil
}

func (s *MessagingService) participantThread(ctx context.Context, callerID, threadID string) (*domain.Thread, error) {
	if callerID == "" {
		return nil, apperr.ErrAuthRequired
	}
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id required", apperr.ErrBadRequest)
	}
	t, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !t.Has(callerID) {
		return nil, apperr.ErrForbidden
	}
	return t, nil
}

// publish failures are logged; subscribers fall back to polling.
func (s *MessagingService) publish(ctx context.Context, typ events.Type, t *domain.Thread, m *domain.Message) {
	if s.bus == nil || t == nil {
		return
	}
	e := events.Event{Type: typ, ThreadID: t.ID, Thread: t, Message: m, Unread: t.UnreadCounts, At: s.now()}
	if err := s.bus.Publish(ctx, e); err != nil {
		s.log.Warnw("publish event failed", "type", typ, "thread_id", t.ID, "error", err)
	}
}

func (s *MessagingService) enqueueNewMessage(ctx context.Context, recipientID, senderName string, m *domain.Message) {
	if s.notify == nil {
		return
	}
	n := domain.NotificationMessage{
		ID:        "message-" + m.ID,
		Type:      domain.NotifyNewMessage,
		UserID:    recipientID,
		Timestamp: m.CreatedAt.Format(time.RFC3339),
		Metadata: map[string]any{
			"threadId":   m.ThreadID,
			"senderId":   m.SenderID,
			"senderName": senderName,
		},
	}
	if err := s.notify.Enqueue(ctx, n); err != nil {
		s.log.Warnw("enqueue new message notification failed", "message_id", m.ID, "error", err)
	}
}
