package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edumatch/messaging/internal/domain"
)

// Names of the two queues the worker drains.
const (
	Notifications = "notifications"
	Emails        = "emails"
)

type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
	ReceiveCount  int
}

type Attributes struct {
	Visible  int
	InFlight int
	Delayed  int
}

// Queue is the send / receive / delete-by-receipt contract. Messages that
// are received and not deleted become visible again for redelivery.
type Queue interface {
	Name() string
	Send(ctx context.Context, body string) (string, error)
	Receive(ctx context.Context, max int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Inspector is the read-only surface used by operator tooling.
type Inspector interface {
	Attributes(ctx context.Context) (Attributes, error)
	// Peek returns up to max messages without consuming them.
	Peek(ctx context.Context, max int) ([]Message, error)
}

// Producer serialises notification envelopes onto a queue.
type Producer struct {
	q Queue
}

func NewProducer(q Queue) *Producer { return &Producer{q: q} }

func (p *Producer) Enqueue(ctx context.Context, n domain.NotificationMessage) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := p.q.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("send to %s queue: %w", p.q.Name(), err)
	}
	return nil
}
