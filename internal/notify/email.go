package notify

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"go.uber.org/zap"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

//go:embed templates/email.html
var templateFS embed.FS

var emailTemplate = template.Must(template.ParseFS(templateFS, "templates/email.html"))

// ErrNoRecipient marks envelopes without an email address. They are
// dropped, not retried.
var ErrNoRecipient = errors.New("notification has no recipient email")

// EmailSender sends transactional emails via the Brevo HTTP API v3.
type EmailSender struct {
	APIKey      string
	SenderEmail string
	SenderName  string
	AppURL      string
	endpoint    string
	client      *http.Client
	logger      *zap.SugaredLogger
}

func NewEmailSender(apiKey, senderEmail, senderName, appURL string, logger *zap.SugaredLogger) *EmailSender {
	return &EmailSender{
		APIKey:      apiKey,
		SenderEmail: senderEmail,
		SenderName:  senderName,
		AppURL:      strings.TrimRight(appURL, "/"),
		endpoint:    brevoEndpoint,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

// WithEndpoint points the sender at another Brevo-compatible API.
func (e *EmailSender) WithEndpoint(url string) *EmailSender {
	e.endpoint = url
	return e
}

// SendNotification renders n with the shared layout and sends it to
// n.UserEmail.
func (e *EmailSender) SendNotification(ctx context.Context, n domain.NotificationMessage) error {
	if n.UserEmail == "" {
		return ErrNoRecipient
	}
	c := Render(n)
	data := struct {
		Title   string
		Message string
		URL     string
	}{Title: c.Title, Message: c.Message}
	if c.Link != "" && e.AppURL != "" {
		data.URL = e.AppURL + c.Link
	}
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return err
	}
	return e.send(ctx, n.UserEmail, c.Title, buf.String())
}

func (e *EmailSender) send(ctx context.Context, toEmail, subject, html string) error {
	payload := map[string]any{
		"sender":      map[string]string{"name": e.SenderName, "email": e.SenderEmail},
		"to":          []map[string]string{{"email": toEmail}},
		"subject":     subject,
		"htmlContent": html,
	}
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", e.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		e.logger.Infow("email sent", "to", toEmail, "subject", subject)
		return nil
	}
	e.logger.Warnw("brevo send failed", "status", resp.StatusCode)
	return fmt.Errorf("brevo send failed status=%d", resp.StatusCode)
}
