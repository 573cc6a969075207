package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	groupID string
	log     *zap.SugaredLogger
	readers []*kafka.Reader
}

// NewKafkaBus writes keyed by thread id so events of one thread stay
// ordered. groupID must be unique per instance for every instance to see
// every event.
func NewKafkaBus(brokers []string, topic, groupID string, log *zap.SugaredLogger) *KafkaBus {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaBus{writer: w, brokers: brokers, topic: topic, groupID: groupID, log: log}
}

func (b *KafkaBus) Publish(ctx context.Context, e Event) error {
	val, err := Encode(e)
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key()),
		Value: val,
		Time:  time.Now(),
	})
}

func (b *KafkaBus) Subscribe(ctx context.Context, h Handler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       b.topic,
		GroupID:     b.groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	b.readers = append(b.readers, r)

	go func() {
		for {
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				b.log.Warnw("kafka read error", "error", err)
				time.Sleep(time.Second)
				continue
			}
			e, err := Decode(m.Value)
			if err != nil {
				b.log.Warnw("invalid event payload", "error", err, "key", string(m.Key))
				continue
			}
			h(ctx, e)
		}
	}()
	return nil
}

func (b *KafkaBus) Close() error {
	var errs []error
	for _, r := range b.readers {
		errs = append(errs, r.Close())
	}
	if b.writer != nil {
		errs = append(errs, b.writer.Close())
	}
	return errors.Join(errs...)
}
