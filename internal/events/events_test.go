package events

import (
	"context"
	"testing"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKeepsUnreadCounts(t *testing.T) {
	e := Event{
		Type:     ThreadUpdated,
		ThreadID: "t1",
		Thread:   &domain.Thread{ID: "t1", User1ID: "a", User2ID: "b"},
		Unread:   map[string]int{"b": 3},
		At:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	b, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, ThreadUpdated, got.Type)
	assert.Equal(t, 3, got.ThreadFor("b").Unread)
	assert.Equal(t, 0, got.ThreadFor("a").Unread)
	assert.ElementsMatch(t, []string{"a", "b"}, got.Participants())
}

func TestMemoryBusDeliversUntilCancelled(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan Event, 4)
	require.NoError(t, bus.Subscribe(ctx, func(_ context.Context, e Event) { got <- e }))

	require.NoError(t, bus.Publish(context.Background(), Event{Type: MessageCreated, ThreadID: "t1"}))
	select {
	case e := <-got:
		assert.Equal(t, "t1", e.ThreadID)
	default:
		t.Fatal("event not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.handlers) == 0
	}, time.Second, 5*time.Millisecond)
}
