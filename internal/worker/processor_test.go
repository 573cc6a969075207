package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/logger"
	"github.com/edumatch/messaging/internal/metrics"
	"github.com/edumatch/messaging/internal/notify"
	"github.com/edumatch/messaging/internal/queue"
	"github.com/edumatch/messaging/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []domain.NotificationMessage
	fail map[string]bool
}

func (f *fakeMailer) SendNotification(_ context.Context, n domain.NotificationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[n.ID] {
		return errors.New("smtp down")
	}
	f.sent = append(f.sent, n)
	return nil
}

type mailerFunc func(ctx context.Context, n domain.NotificationMessage) error

func (f mailerFunc) SendNotification(ctx context.Context, n domain.NotificationMessage) error {
	return f(ctx, n)
}

type setup struct {
	p      *Processor
	notifs *queue.MemoryQueue
	emails *queue.MemoryQueue
	store  *repository.MemoryNotificationRepository
	mailer *fakeMailer
	m      *metrics.Metrics
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{
		notifs: queue.NewMemoryQueue(queue.Notifications),
		emails: queue.NewMemoryQueue(queue.Emails),
		store:  repository.NewMemoryNotificationRepository(),
		mailer: &fakeMailer{fail: map[string]bool{}},
		m:      metrics.New(prometheus.NewRegistry()),
	}
	s.p = NewProcessor(s.notifs, s.emails, s.store, s.mailer, Config{Interval: time.Hour}, logger.Nop(), s.m)
	return s
}

func send(t *testing.T, q queue.Queue, n domain.NotificationMessage) {
	t.Helper()
	b, err := json.Marshal(n)
	require.NoError(t, err)
	_, err = q.Send(context.Background(), string(b))
	require.NoError(t, err)
}

func TestNotificationIsStoredThenEmailed(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	send(t, s.notifs, domain.NotificationMessage{ID: "n1", Type: domain.NotifyWelcome, UserID: "u1", UserEmail: "u1@test"})

	// the emails queue is drained after notifications, so the forwarded
	// copy goes out in the same pass
	st := s.p.RunOnce(ctx)
	assert.Equal(t, 2, st.Received)
	assert.Equal(t, 2, st.Processed)
	assert.Equal(t, 1, s.store.Count())
	assert.Equal(t, 0, s.notifs.Len())
	assert.Equal(t, 0, s.emails.Len())
	require.Len(t, s.mailer.sent, 1)
	assert.Equal(t, "n1", s.mailer.sent[0].ID)

	st = s.p.RunOnce(ctx)
	assert.Equal(t, 0, st.Received)
	assert.Len(t, s.mailer.sent, 1)
}

func TestDuplicateNotificationIdStoredOnce(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	n := domain.NotificationMessage{ID: "dup", Type: domain.NotifyPostApproved, UserID: "u1"}
	send(t, s.notifs, n)
	send(t, s.notifs, n)

	st := s.p.RunOnce(ctx)
	assert.Equal(t, 2, st.Received)
	assert.Equal(t, 1, st.Processed)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 1, s.store.Count())
	assert.Equal(t, 0, s.notifs.Len())
	// no email address, nothing forwarded
	assert.Equal(t, 0, s.emails.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(s.m.QueueMessages.WithLabelValues(queue.Notifications, metrics.OutcomeSkipped)))
}

// flakyQueue fails the next failSends sends.
type flakyQueue struct {
	*queue.MemoryQueue
	mu        sync.Mutex
	failSends int
}

func (q *flakyQueue) Send(ctx context.Context, body string) (string, error) {
	q.mu.Lock()
	if q.failSends > 0 {
		q.failSends--
		q.mu.Unlock()
		return "", errors.New("queue throttled")
	}
	q.mu.Unlock()
	return q.MemoryQueue.Send(ctx, body)
}

func TestForwardFailureKeepsNotificationForRedelivery(t *testing.T) {
	ctx := context.Background()
	notifs := queue.NewMemoryQueue(queue.Notifications)
	emails := &flakyQueue{MemoryQueue: queue.NewMemoryQueue(queue.Emails), failSends: 1}
	store := repository.NewMemoryNotificationRepository()
	mailer := &fakeMailer{fail: map[string]bool{}}
	p := NewProcessor(notifs, emails, store, mailer, Config{Interval: time.Hour}, logger.Nop(), nil)
	send(t, notifs, domain.NotificationMessage{ID: "n1", Type: domain.NotifyWelcome, UserID: "u1", UserEmail: "u1@test"})

	st := p.RunOnce(ctx)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 0, store.Count(), "nothing stored while the email is not queued")
	assert.Equal(t, 0, emails.Len())
	assert.Equal(t, 1, notifs.Len())

	notifs.Requeue()
	st = p.RunOnce(ctx)
	assert.Equal(t, 0, st.Failed)
	assert.Equal(t, 0, notifs.Len())
	assert.Equal(t, 1, store.Count())

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "n1", mailer.sent[0].ID)
	assert.Equal(t, 0, emails.Len())
}

func TestFailureLeavesMessageAndBatchContinues(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	_, err := s.emails.Send(ctx, "{not json")
	require.NoError(t, err)
	send(t, s.emails, domain.NotificationMessage{ID: "bad", Type: domain.NotifyWelcome, UserEmail: "x@test"})
	send(t, s.emails, domain.NotificationMessage{ID: "good", Type: domain.NotifyWelcome, UserEmail: "y@test"})
	s.mailer.fail["bad"] = true

	st := s.p.RunOnce(ctx)
	assert.Equal(t, 3, st.Received)
	assert.Equal(t, 2, st.Failed)
	assert.Equal(t, 1, st.Processed)
	require.Len(t, s.mailer.sent, 1)
	assert.Equal(t, "good", s.mailer.sent[0].ID)

	// failed messages were not deleted and come back after the visibility timeout
	assert.Equal(t, 2, s.emails.Len())
	s.emails.Requeue()
	s.mailer.fail["bad"] = false
	st = s.p.RunOnce(ctx)
	assert.Equal(t, 1, st.Processed)
	assert.Equal(t, 1, st.Failed)
}

func TestEmailWithoutRecipientIsDropped(t *testing.T) {
	s := newSetup(t)
	send(t, s.emails, domain.NotificationMessage{ID: "n", Type: domain.NotifyWelcome})
	// the real sender rejects empty recipients; emulate it
	p := NewProcessor(s.notifs, s.emails, s.store, mailerFunc(func(_ context.Context, n domain.NotificationMessage) error {
		if n.UserEmail == "" {
			return notify.ErrNoRecipient
		}
		return nil
	}), Config{}, logger.Nop(), nil)

	st := p.RunOnce(context.Background())
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 0, s.emails.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newSetup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
}
