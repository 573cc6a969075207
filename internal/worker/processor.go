package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/metrics"
	"github.com/edumatch/messaging/internal/notify"
	"github.com/edumatch/messaging/internal/queue"
	"github.com/edumatch/messaging/internal/repository"
	"go.uber.org/zap"
)

type EmailSender interface {
	SendNotification(ctx context.Context, n domain.NotificationMessage) error
}

// Stats summarises one pass over a queue.
type Stats struct {
	Received  int
	Processed int
	Skipped   int
	Failed    int
}

func (s *Stats) add(o Stats) {
	s.Received += o.Received
	s.Processed += o.Processed
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

type outcome int

const (
	processed outcome = iota
	skipped
)

type handlerFunc func(ctx context.Context, msg queue.Message) (outcome, error)

// Processor drains the notifications and emails queues on a fixed
// interval. A message is deleted only after its handler succeeds; failed
// messages stay in the queue for the provider to redeliver.
type Processor struct {
	notifications queue.Queue
	emails        queue.Queue
	forward       *queue.Producer
	store         repository.NotificationRepository
	mailer        EmailSender
	interval      time.Duration
	batchSize     int
	log           *zap.SugaredLogger
	metrics       *metrics.Metrics
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

func NewProcessor(notifications, emails queue.Queue, store repository.NotificationRepository, mailer EmailSender, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
		cfg.BatchSize = 10
	}
	return &Processor{
		notifications: notifications,
		emails:        emails,
		forward:       queue.NewProducer(emails),
		store:         store,
		mailer:        mailer,
		interval:      cfg.Interval,
		batchSize:     cfg.BatchSize,
		log:           log,
		metrics:       m,
	}
}

// Run processes immediately and then on every tick until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Infow("queue processor started", "interval", p.interval)
	p.RunOnce(ctx)

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("queue processor stopped")
			return nil
		case <-t.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs one receive-process-delete pass over both queues.
func (p *Processor) RunOnce(ctx context.Context) Stats {
	var total Stats
	total.add(p.drain(ctx, p.notifications, p.handleNotification))
	total.add(p.drain(ctx, p.emails, p.handleEmail))
	return total
}

func (p *Processor) drain(ctx context.Context, q queue.Queue, handle handlerFunc) Stats {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PollDuration.WithLabelValues(q.Name()).Observe(time.Since(start).Seconds())
		}
	}()

	var st Stats
	msgs, err := q.Receive(ctx, p.batchSize)
	if err != nil {
		p.log.Errorw("receive failed", "queue", q.Name(), "error", err)
		return st
	}
	st.Received = len(msgs)

	for _, m := range msgs {
		out, err := p.safeHandle(ctx, handle, m)
		if err != nil {
			st.Failed++
			p.count(q.Name(), metrics.OutcomeFailed)
			p.log.Errorw("message handling failed, left for redelivery",
				"queue", q.Name(), "message_id", m.ID, "receive_count", m.ReceiveCount, "error", err)
			continue
		}
		if err := q.Delete(ctx, m.ReceiptHandle); err != nil {
			p.log.Warnw("delete failed", "queue", q.Name(), "message_id", m.ID, "error", err)
		}
		if out == skipped {
			st.Skipped++
			p.count(q.Name(), metrics.OutcomeSkipped)
		} else {
			st.Processed++
			p.count(q.Name(), metrics.OutcomeProcessed)
		}
	}
	if st.Received > 0 {
		p.log.Infow("queue pass complete", "queue", q.Name(),
			"received", st.Received, "processed", st.Processed, "skipped", st.Skipped, "failed", st.Failed)
	}
	return st
}

// safeHandle keeps a panicking handler from aborting the batch.
func (p *Processor) safeHandle(ctx context.Context, handle handlerFunc, m queue.Message) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, m)
}

func (p *Processor) count(queueName, outcome string) {
	if p.metrics != nil {
		p.metrics.QueueMessages.WithLabelValues(queueName, outcome).Inc()
	}
}

func decode(m queue.Message) (domain.NotificationMessage, error) {
	var n domain.NotificationMessage
	if err := json.Unmarshal([]byte(m.Body), &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	if n.ID == "" {
		n.ID = "sqs-" + m.ID
	}
	return n, nil
}

// handleNotification forwards the envelope to the emails queue and then
// persists the row once per id. A forward failure leaves nothing stored,
// so redelivery retries both steps. A failed insert after a successful
// forward can send the email twice.
func (p *Processor) handleNotification(ctx context.Context, m queue.Message) (outcome, error) {
	n, err := decode(m)
	if err != nil {
		return processed, err
	}
	exists, err := p.store.Exists(ctx, n.ID)
	if err != nil {
		return processed, fmt.Errorf("check existing notification: %w", err)
	}
	if exists {
		p.log.Debugw("notification already stored, skipping", "id", n.ID)
		return skipped, nil
	}
	if n.UserEmail != "" {
		if err := p.forward.Enqueue(ctx, n); err != nil {
			return processed, err
		}
	}
	inserted, err := p.store.Insert(ctx, notify.Row(n))
	if err != nil {
		return processed, fmt.Errorf("insert notification: %w", err)
	}
	if !inserted {
		return skipped, nil
	}
	return processed, nil
}

func (p *Processor) handleEmail(ctx context.Context, m queue.Message) (outcome, error) {
	n, err := decode(m)
	if err != nil {
		return processed, err
	}
	if err := p.mailer.SendNotification(ctx, n); err != nil {
		if errors.Is(err, notify.ErrNoRecipient) {
			p.log.Warnw("email without recipient dropped", "id", n.ID)
			return skipped, nil
		}
		return processed, err
	}
	return processed, nil
}
