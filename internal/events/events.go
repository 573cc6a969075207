package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edumatch/messaging/internal/domain"
)

type Type string

const (
	MessageCreated Type = "message.created"
	ThreadCreated  Type = "thread.created"
	ThreadUpdated  Type = "thread.updated"
)

// Event is what every API instance receives so it can push to its own
// websocket subscribers. Unread carries the per-viewer counts because the
// thread's JSON form hides them.
type Event struct {
	Type     Type            `json:"type"`
	ThreadID string          `json:"thread_id"`
	Thread   *domain.Thread  `json:"thread,omitempty"`
	Message  *domain.Message `json:"message,omitempty"`
	Unread   map[string]int  `json:"unread,omitempty"`
	At       time.Time       `json:"at"`
}

// Participants of the thread the event is about.
func (e Event) Participants() []string {
	if e.Thread == nil {
		return nil
	}
	return []string{e.Thread.User1ID, e.Thread.User2ID}
}

// ThreadFor returns the thread projected for viewerID.
func (e Event) ThreadFor(viewerID string) *domain.Thread {
	if e.Thread == nil {
		return nil
	}
	t := *e.Thread
	t.UnreadCounts = e.Unread
	t = t.ForViewer(viewerID)
	return &t
}

func (e Event) Key() string { return e.ThreadID }

func Encode(e Event) ([]byte, error) { return json.Marshal(e) }

func Decode(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

type Handler func(ctx context.Context, e Event)

// Bus fans events out to every running API instance.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe starts delivering events to h until ctx is cancelled.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}
