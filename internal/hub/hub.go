package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/events"
)

// Topics clients can subscribe to.
const (
	TopicThreads       = "threads"
	topicMessagePrefix = "message:"
	topicUserPrefix    = "user:"
)

func MessageTopic(threadID string) string { return topicMessagePrefix + threadID }
func UserTopic(userID string) string      { return topicUserPrefix + userID }

// ThreadOf returns the thread id of a message topic.
func ThreadOf(topic string) (string, bool) {
	if !strings.HasPrefix(topic, topicMessagePrefix) || len(topic) == len(topicMessagePrefix) {
		return "", false
	}
	return topic[len(topicMessagePrefix):], true
}

// ParseTopic validates a requested topic for userID. A user may only
// follow their own user topic.
func ParseTopic(topic, userID string) (string, bool) {
	switch {
	case topic == TopicThreads:
		return topic, true
	case strings.HasPrefix(topic, topicMessagePrefix) && len(topic) > len(topicMessagePrefix):
		return topic, true
	case topic == UserTopic(userID):
		return topic, true
	}
	return "", false
}

type Client struct {
	UserID    string
	Topic     string
	Send      chan []byte
	Connected time.Time
}

func NewClient(userID, topic string) *Client {
	return &Client{UserID: userID, Topic: topic, Send: make(chan []byte, 32), Connected: time.Now()}
}

// Envelope is the frame written to websocket subscribers.
type Envelope struct {
	Type    events.Type     `json:"type"`
	Thread  *domain.Thread  `json:"thread,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
}

type Hub struct {
	mu      sync.RWMutex
	byTopic map[string]map[*Client]struct{}
}

func New() *Hub {
	return &Hub{byTopic: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byTopic[c.Topic]; !ok {
		h.byTopic[c.Topic] = make(map[*Client]struct{})
	}
	h.byTopic[c.Topic][c] = struct{}{}
}

func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byTopic[c.Topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byTopic, c.Topic)
		}
	}
}

func (h *Hub) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[topic])
}

// broadcast renders a frame per client; a nil frame skips that client.
// Slow clients are dropped rather than blocking the fan-out.
func (h *Hub) broadcast(topic string, render func(c *Client) []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.byTopic[topic] {
		msg := render(c)
		if msg == nil {
			continue
		}
		select {
		case c.Send <- msg:
			sent++
		default:
		}
	}
	return sent
}

// Dispatch routes a bus event to local subscribers:
// message.created goes to message:<thread>; thread.created goes to the
// threads topic and both user topics; thread.updated to both user topics.
// Thread frames are projected per viewer and only sent to participants.
func (h *Hub) Dispatch(_ context.Context, e events.Event) {
	switch e.Type {
	case events.MessageCreated:
		if e.Message == nil {
			return
		}
		frame, err := json.Marshal(Envelope{Type: e.Type, Message: e.Message})
		if err != nil {
			return
		}
		h.broadcast(MessageTopic(e.ThreadID), func(*Client) []byte { return frame })
	case events.ThreadCreated, events.ThreadUpdated:
		if e.Thread == nil {
			return
		}
		render := func(c *Client) []byte {
			if !e.Thread.Has(c.UserID) {
				return nil
			}
			b, err := json.Marshal(Envelope{Type: e.Type, Thread: e.ThreadFor(c.UserID)})
			if err != nil {
				return nil
			}
			return b
		}
		if e.Type == events.ThreadCreated {
			h.broadcast(TopicThreads, render)
		}
		for _, uid := range e.Participants() {
			h.broadcast(UserTopic(uid), render)
		}
	}
}
