package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCoversEveryType(t *testing.T) {
	for _, typ := range domain.NotificationTypes {
		c := Render(domain.NotificationMessage{Type: typ})
		assert.NotEqual(t, "Notification", c.Title, typ)
		assert.NotEmpty(t, c.Message, typ)
	}
	assert.Equal(t, "Notification", Render(domain.NotificationMessage{Type: "SOMETHING_NEW"}).Title)
}

func TestRenderUsesMetadata(t *testing.T) {
	c := Render(domain.NotificationMessage{
		Type:     domain.NotifyApplicationStatusChange,
		Metadata: map[string]any{"postTitle": "MSc Robotics", "status": "ACCEPTED", "applicationId": "app-7"},
	})
	assert.Equal(t, "Your application to MSc Robotics is now accepted.", c.Message)
	assert.Equal(t, "/applications/app-7", c.Link)

	c = Render(domain.NotificationMessage{
		Type:     domain.NotifyPaymentSuccess,
		Metadata: map[string]any{"amount": 19.99, "currency": "eur", "plan": "premium"},
	})
	assert.Equal(t, "We received your payment of 19.99 EUR for the premium plan.", c.Message)
}

func TestRowCopiesIdentity(t *testing.T) {
	row := Row(domain.NotificationMessage{ID: "n1", UserID: "u1", Type: domain.NotifyWelcome})
	assert.Equal(t, "n1", row.ID)
	assert.Equal(t, "u1", row.UserID)
	assert.Equal(t, "Welcome to EduMatch", row.Title)
	assert.False(t, row.Read)
}

func TestSendNotificationPostsToBrevo(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewEmailSender("key-1", "noreply@edumatch.test", "EduMatch", "https://edumatch.test/", logger.Nop()).WithEndpoint(srv.URL)
	err := s.SendNotification(context.Background(), domain.NotificationMessage{
		ID: "n1", Type: domain.NotifyNewMessage, UserID: "u1", UserEmail: "a@b.test",
		Metadata: map[string]any{"senderName": "Uni", "threadId": "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "New message", got["subject"])
	assert.Contains(t, got["htmlContent"], "Uni sent you a message.")
	assert.Contains(t, got["htmlContent"], "https://edumatch.test/messages?thread=t1")
}

func TestSendNotificationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	s := NewEmailSender("k", "x@y.test", "EduMatch", "", logger.Nop()).WithEndpoint(srv.URL)

	err := s.SendNotification(context.Background(), domain.NotificationMessage{Type: domain.NotifyWelcome})
	assert.ErrorIs(t, err, ErrNoRecipient)

	err = s.SendNotification(context.Background(), domain.NotificationMessage{Type: domain.NotifyWelcome, UserEmail: "a@b.test"})
	assert.Error(t, err)
}
