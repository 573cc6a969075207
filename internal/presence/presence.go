package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Store tracks websocket connections per user in Redis so any API
// instance can answer presence queries.
//
// Keys:
//   - <prefix>:conn:<userID>     set of socket ids
//   - <prefix>:presence:<userID> json {status,last_seen}
type Store struct {
	client *redis.Client
	prefix string
}

type Presence struct {
	UserID   string            `json:"userId"`
	Status   domain.UserStatus `json:"status"`
	LastSeen int64             `json:"lastSeen"`
}

func NewStore(r *redis.Client, prefix string) *Store {
	return &Store{client: r, prefix: prefix}
}

func (s *Store) connKey(userID string) string     { return fmt.Sprintf("%s:conn:%s", s.prefix, userID) }
func (s *Store) presenceKey(userID string) string { return fmt.Sprintf("%s:presence:%s", s.prefix, userID) }

// Connect registers socketID for userID and marks the user online. ttl
// bounds how long a crashed instance can leave a user online.
func (s *Store) Connect(ctx context.Context, userID, socketID string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.connKey(userID), socketID)
	pipe.Expire(ctx, s.connKey(userID), ttl)
	pipe.Set(ctx, s.presenceKey(userID), s.encode(domain.StatusOnline), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Disconnect removes socketID; when no sockets remain the user goes offline.
func (s *Store) Disconnect(ctx context.Context, userID, socketID string) error {
	key := s.connKey(userID)
	if err := s.client.SRem(ctx, key, socketID).Err(); err != nil {
		return err
	}
	cnt, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 0 {
		return s.client.Set(ctx, s.presenceKey(userID), s.encode(domain.StatusOffline), 0).Err()
	}
	return nil
}

// Get returns offline for users never seen.
func (s *Store) Get(ctx context.Context, userID string) (Presence, error) {
	out := Presence{UserID: userID, Status: domain.StatusOffline}
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	out.UserID = userID
	return out, nil
}

func (s *Store) encode(status domain.UserStatus) []byte {
	b, _ := json.Marshal(Presence{Status: status, LastSeen: time.Now().Unix()})
	return b
}
