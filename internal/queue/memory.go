package queue

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue mimics SQS visibility: received messages are hidden until
// deleted or Requeue is called.
type MemoryQueue struct {
	name string

	mu       sync.Mutex
	visible  []Message
	inFlight map[string]Message
	counts   map[string]int
}

func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{name: name, inFlight: map[string]Message{}, counts: map[string]int{}}
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Send(_ context.Context, body string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	q.visible = append(q.visible, Message{ID: id, Body: body})
	return id, nil
}

func (q *MemoryQueue) Receive(_ context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > 10 {
		max = 10
	}
	n := min(max, len(q.visible))
	out := make([]Message, 0, n)
	for _, m := range q.visible[:n] {
		q.counts[m.ID]++
		m.ReceiveCount = q.counts[m.ID]
		m.ReceiptHandle = m.ID + "#" + strconv.Itoa(m.ReceiveCount)
		q.inFlight[m.ReceiptHandle] = m
		out = append(out, m)
	}
	q.visible = q.visible[n:]
	return out, nil
}

func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, receiptHandle)
	return nil
}

func (q *MemoryQueue) Peek(_ context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(max, len(q.visible))
	out := make([]Message, n)
	copy(out, q.visible[:n])
	return out, nil
}

func (q *MemoryQueue) Attributes(context.Context) (Attributes, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Attributes{Visible: len(q.visible), InFlight: len(q.inFlight)}, nil
}

// Requeue makes every in-flight message visible again, like an expired
// visibility timeout.
func (q *MemoryQueue) Requeue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for h, m := range q.inFlight {
		m.ReceiptHandle = ""
		q.visible = append(q.visible, m)
		delete(q.inFlight, h)
	}
}

// Len counts visible and in-flight messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.visible) + len(q.inFlight)
}
