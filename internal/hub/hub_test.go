package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case b := <-c.Send:
		var env Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	default:
		t.Fatalf("no frame for %s on %s", c.UserID, c.Topic)
		return Envelope{}
	}
}

func TestParseTopic(t *testing.T) {
	_, ok := ParseTopic("threads", "a")
	assert.True(t, ok)
	_, ok = ParseTopic("message:t1", "a")
	assert.True(t, ok)
	_, ok = ParseTopic("message:", "a")
	assert.False(t, ok)
	_, ok = ParseTopic("user:a", "a")
	assert.True(t, ok)
	_, ok = ParseTopic("user:b", "a")
	assert.False(t, ok)
}

func TestDispatchMessageCreated(t *testing.T) {
	h := New()
	c := NewClient("a", MessageTopic("t1"))
	other := NewClient("a", MessageTopic("t2"))
	h.Add(c)
	h.Add(other)

	h.Dispatch(context.Background(), events.Event{
		Type:     events.MessageCreated,
		ThreadID: "t1",
		Message:  &domain.Message{ID: "m1", ThreadID: "t1", SenderID: "b"},
	})

	env := recv(t, c)
	require.NotNil(t, env.Message)
	assert.Equal(t, "m1", env.Message.ID)
	assert.Empty(t, other.Send)
}

func TestDispatchThreadUpdatedProjectsUnreadPerViewer(t *testing.T) {
	h := New()
	a := NewClient("a", UserTopic("a"))
	b := NewClient("b", UserTopic("b"))
	outsider := NewClient("c", TopicThreads)
	h.Add(a)
	h.Add(b)
	h.Add(outsider)

	h.Dispatch(context.Background(), events.Event{
		Type:     events.ThreadUpdated,
		ThreadID: "t1",
		Thread:   &domain.Thread{ID: "t1", User1ID: "a", User2ID: "b"},
		Unread:   map[string]int{"b": 2},
	})

	assert.Equal(t, 0, recv(t, a).Thread.Unread)
	assert.Equal(t, 2, recv(t, b).Thread.Unread)
	assert.Empty(t, outsider.Send)
}

func TestDispatchThreadCreatedOnlyReachesParticipants(t *testing.T) {
	h := New()
	a := NewClient("a", TopicThreads)
	c := NewClient("c", TopicThreads)
	h.Add(a)
	h.Add(c)

	h.Dispatch(context.Background(), events.Event{
		Type:   events.ThreadCreated,
		Thread: &domain.Thread{ID: "t1", User1ID: "a", User2ID: "b"},
	})

	assert.Equal(t, "t1", recv(t, a).Thread.ID)
	assert.Empty(t, c.Send)
}

func TestRemoveDropsEmptyTopic(t *testing.T) {
	h := New()
	c := NewClient("a", TopicThreads)
	h.Add(c)
	assert.Equal(t, 1, h.Count(TopicThreads))
	h.Remove(c)
	assert.Equal(t, 0, h.Count(TopicThreads))
}

func TestSlowClientIsSkipped(t *testing.T) {
	h := New()
	c := &Client{UserID: "a", Topic: MessageTopic("t1"), Send: make(chan []byte)}
	h.Add(c)
	sent := h.broadcast(MessageTopic("t1"), func(*Client) []byte { return []byte("x") })
	assert.Equal(t, 0, sent)
}
