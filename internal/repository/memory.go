package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edumatch/messaging/internal/domain"
)

// In-memory stores back the tests and the "memory" dev profile.

type MemoryThreadRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Thread
	byPair map[string]string
}

func NewMemoryThreadRepository() *MemoryThreadRepository {
	return &MemoryThreadRepository{
		byID:   map[string]*domain.Thread{},
		byPair: map[string]string{},
	}
}

func cloneThread(t *domain.Thread) *domain.Thread {
	c := *t
	c.UnreadCounts = make(map[string]int, len(t.UnreadCounts))
	for k, v := range t.UnreadCounts {
		c.UnreadCounts[k] = v
	}
	return &c
}

func (r *MemoryThreadRepository) FindOrCreate(_ context.Context, t *domain.Thread) (*domain.Thread, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.PairKey(t.User1ID, t.User2ID)
	if id, ok := r.byPair[key]; ok {
		return cloneThread(r.byID[id]), false, nil
	}
	stored := cloneThread(t)
	stored.PairKey = key
	r.byID[stored.ID] = stored
	r.byPair[key] = stored.ID
	return cloneThread(stored), true, nil
}

func (r *MemoryThreadRepository) Get(_ context.Context, id string) (*domain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneThread(t), nil
}

func (r *MemoryThreadRepository) ListForUser(_ context.Context, userID string) ([]domain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Thread{}
	for _, t := range r.byID {
		if t.Has(userID) {
			out = append(out, *cloneThread(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemoryThreadRepository) ApplyMessage(_ context.Context, threadID, recipientID string, lm LastMessage) (*domain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	at := lm.At
	t.LastMessage = lm.Content
	t.LastMessageSenderID = lm.SenderID
	t.LastMessageSender = lm.SenderName
	t.LastMessageImage = lm.SenderImage
	t.LastMessageFileURL = lm.FileURL
	t.LastMessageMimeType = lm.MimeType
	t.LastMessageAt = &at
	t.UpdatedAt = at
	if t.UnreadCounts == nil {
		t.UnreadCounts = map[string]int{}
	}
	t.UnreadCounts[recipientID]++
	return cloneThread(t), nil
}

func (r *MemoryThreadRepository) ClearUnread(_ context.Context, threadID, userID string) (*domain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.UnreadCounts == nil {
		t.UnreadCounts = map[string]int{}
	}
	t.UnreadCounts[userID] = 0
	return cloneThread(t), nil
}

type MemoryMessageRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{byID: map[string]*domain.Message{}}
}

func (r *MemoryMessageRepository) Insert(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.ID]; ok {
		return nil
	}
	c := *m
	r.byID[m.ID] = &c
	return nil
}

func (r *MemoryMessageRepository) Get(_ context.Context, id string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r *MemoryMessageRepository) ListByThread(_ context.Context, threadID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Message{}
	for _, m := range r.byID {
		if m.ThreadID == threadID {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryMessageRepository) MarkRead(_ context.Context, id string, at time.Time) (*domain.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := false
	if !m.IsRead {
		m.IsRead = true
		m.ReadAt = &at
		changed = true
	}
	c := *m
	return &c, changed, nil
}

type MemoryNotificationRepository struct {
	mu   sync.Mutex
	rows map[string]domain.Notification
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{rows: map[string]domain.Notification{}}
}

func (r *MemoryNotificationRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[id]
	return ok, nil
}

func (r *MemoryNotificationRepository) Insert(_ context.Context, n *domain.Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[n.ID]; ok {
		return false, nil
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	r.rows[n.ID] = *n
	return true, nil
}

func (r *MemoryNotificationRepository) ListForUser(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Notification{}
	for _, n := range r.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count is used by tests.
func (r *MemoryNotificationRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
