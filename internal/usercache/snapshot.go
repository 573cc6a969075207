package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/redis/go-redis/v9"
)

type Snapshot struct {
	Users   []domain.User `json:"users"`
	SavedAt time.Time     `json:"savedAt"`
}

// SnapshotStore persists the directory. Load returns (nil, nil) when
// nothing was saved.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
}

// RedisSnapshotStore keeps the snapshot under one key without expiry so
// a stale copy is still there when the user service is down.
type RedisSnapshotStore struct {
	client *redis.Client
	key    string
}

func NewRedisSnapshotStore(r *redis.Client, prefix string) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: r, key: fmt.Sprintf("%s:users:snapshot", prefix)}
}

func (s *RedisSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, b, 0).Err()
}

type MemorySnapshotStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore { return &MemorySnapshotStore{} }

func (s *MemorySnapshotStore) Load(context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	cp := *s.snap
	cp.Users = append([]domain.User(nil), s.snap.Users...)
	return &cp, nil
}

func (s *MemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Users = append([]domain.User(nil), snap.Users...)
	s.snap = &snap
	return nil
}
