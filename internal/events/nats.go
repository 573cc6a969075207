package events

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSBus struct {
	nc      *nats.Conn
	subject string
	log     *zap.SugaredLogger
}

func NewNATSBus(url, subject string, log *zap.SugaredLogger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("messaging-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSBus{nc: nc, subject: subject, log: log}, nil
}

func (b *NATSBus) Publish(_ context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		b.log.Warnw("nats publish failed", "type", e.Type, "error", err)
		return err
	}
	return nil
}

// Subscribe uses a plain subscription, not a queue group: each instance
// has its own websocket clients and needs every event.
func (b *NATSBus) Subscribe(ctx context.Context, h Handler) error {
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		e, err := Decode(m.Data)
		if err != nil {
			b.log.Warnw("invalid event payload", "error", err)
			return
		}
		h(ctx, e)
	})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *NATSBus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
