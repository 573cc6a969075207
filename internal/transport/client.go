// Package transport is the client side of the messaging API: thread and
// message operations plus push subscriptions. Reads degrade to empty
// results when no endpoint is configured or nobody is signed in; writes
// return an error instead.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edumatch/messaging/internal/apperr"
	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/httpclient"
	"github.com/edumatch/messaging/internal/session"
	"github.com/edumatch/messaging/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultAuthRetries    = 2
	DefaultAuthRetryDelay = 500 * time.Millisecond
	DefaultLookupTimeout  = 5 * time.Second
	DefaultPollInterval   = 3 * time.Second
)

type Config struct {
	Endpoint string
	APIKey   string

	// AuthRetries extra attempts are made to resolve the session, waiting
	// AuthRetryDelay*n before attempt n.
	AuthRetries    int
	AuthRetryDelay time.Duration
	// LookupTimeout bounds the existing-thread scan in CreateThread.
	LookupTimeout  time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

type Client struct {
	cfg      Config
	sessions *session.Resolver
	http     *httpclient.Client
	log      *zap.SugaredLogger
}

func New(cfg Config, sessions *session.Resolver, log *zap.SugaredLogger) *Client {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.AuthRetries == 0 {
		cfg.AuthRetries = DefaultAuthRetries
	}
	if cfg.AuthRetryDelay == 0 {
		cfg.AuthRetryDelay = DefaultAuthRetryDelay
	}
	if cfg.LookupTimeout == 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Client{
		cfg:      cfg,
		sessions: sessions,
		http: httpclient.NewClient(httpclient.ClientConfig{
			Timeout:         cfg.RequestTimeout,
			RetryMaxElapsed: 5 * time.Second,
		}),
		log: log,
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool { return c.cfg.Endpoint != "" }

// Logout forgets the cached session.
func (c *Client) Logout() { c.sessions.Invalidate() }

// Caller resolves the signed-in user, retrying with a linearly growing
// delay before giving up with apperr.ErrAuthRequired.
func (c *Client) Caller(ctx context.Context) (*session.Identity, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.AuthRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(time.Duration(attempt) * c.cfg.AuthRetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		id, err := c.sessions.Resolve(ctx)
		if err == nil {
			return id, nil
		}
		lastErr = err
		c.log.Debugw("session not resolved", "attempt", attempt+1, "error", err)
	}
	if errors.Is(lastErr, apperr.ErrAuthRequired) {
		return nil, apperr.ErrAuthRequired
	}
	return nil, fmt.Errorf("%w: %v", apperr.ErrAuthRequired, lastErr)
}

func (c *Client) headers(id *session.Identity) http.Header {
	h := http.Header{}
	if id != nil && id.Token != "" {
		h.Set("Authorization", "Bearer "+id.Token)
	}
	if c.cfg.APIKey != "" {
		h.Set("X-API-Key", c.cfg.APIKey)
	}
	return h
}

type envelope[T any] struct {
	Data T `json:"data"`
}

func call[T any](ctx context.Context, c *Client, id *session.Identity, method, path string, in interface{}) (T, error) {
	var out envelope[T]
	err := c.http.DoJSON(ctx, method, c.cfg.Endpoint+path, c.headers(id), in, &out)
	return out.Data, err
}

// reader resolves identity for read paths: (nil, nil) means degrade to
// an empty result.
func (c *Client) reader(ctx context.Context) (*session.Identity, error) {
	if !c.Configured() {
		return nil, nil
	}
	id, err := c.sessions.Resolve(ctx)
	if errors.Is(err, apperr.ErrAuthRequired) {
		return nil, nil
	}
	return id, err
}

func (c *Client) writer(ctx context.Context) (*session.Identity, error) {
	if !c.Configured() {
		return nil, apperr.ErrNotConfigured
	}
	return c.Caller(ctx)
}

// SendMessage posts a message as the signed-in user.
func (c *Client) SendMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	if in.Empty() {
		return nil, fmt.Errorf("%w: message needs content or a file", apperr.ErrBadRequest)
	}
	id, err := c.writer(ctx)
	if err != nil {
		return nil, err
	}
	m, err := call[domain.Message](ctx, c, id, http.MethodPost, "/v1/threads/"+url.PathEscape(in.ThreadID)+"/messages", in)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &m, nil
}

// CreateThread returns the caller's thread with participantID, creating
// it when none exists. The scan of existing threads is bounded by
// LookupTimeout; when it runs out the scan is cancelled and creation
// proceeds, relying on the server's pair upsert.
func (c *Client) CreateThread(ctx context.Context, participantID string) (*domain.Thread, error) {
	id, err := c.writer(ctx)
	if err != nil {
		return nil, err
	}
	if participantID == "" || participantID == id.UserID {
		return nil, fmt.Errorf("%w: participant must be another user", apperr.ErrBadRequest)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	threads, err := call[[]domain.Thread](lookupCtx, c, id, http.MethodGet, "/v1/users/"+url.PathEscape(id.UserID)+"/threads", nil)
	timedOut := errors.Is(lookupCtx.Err(), context.DeadlineExceeded)
	cancel()
	switch {
	case err == nil:
		for i := range threads {
			if threads[i].Has(participantID) {
				return &threads[i], nil
			}
		}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case timedOut:
		c.log.Warnw("existing thread lookup timed out", "participant_id", participantID, "timeout", c.cfg.LookupTimeout)
	default:
		c.log.Warnw("existing thread lookup failed", "participant_id", participantID, "error", err)
	}

	t, err := call[domain.Thread](ctx, c, id, http.MethodPost, "/v1/threads", map[string]string{"participantId": participantID})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return &t, nil
}

// ListThreads returns userID's threads, most recent first.
func (c *Client) ListThreads(ctx context.Context, userID string) ([]domain.Thread, error) {
	id, err := c.reader(ctx)
	if err != nil || id == nil {
		return []domain.Thread{}, err
	}
	threads, err := call[[]domain.Thread](ctx, c, id, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/threads", nil)
	if err != nil {
		return []domain.Thread{}, fmt.Errorf("list threads: %w", err)
	}
	if threads == nil {
		threads = []domain.Thread{}
	}
	domain.SortThreads(threads)
	return threads, nil
}

func (c *Client) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	id, err := c.reader(ctx)
	if err != nil || id == nil {
		return nil, err
	}
	t, err := call[domain.Thread](ctx, c, id, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID), nil)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &t, nil
}

// ListMessages returns a thread's messages oldest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]domain.Message, error) {
	id, err := c.reader(ctx)
	if err != nil || id == nil {
		return []domain.Message{}, err
	}
	msgs, err := call[[]domain.Message](ctx, c, id, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID)+"/messages", nil)
	if err != nil {
		return []domain.Message{}, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func (c *Client) MarkRead(ctx context.Context, messageID string) (*domain.Message, error) {
	id, err := c.writer(ctx)
	if err != nil {
		return nil, err
	}
	m, err := call[domain.Message](ctx, c, id, http.MethodPost, "/v1/messages/"+url.PathEscape(messageID)+"/read", nil)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return &m, nil
}

func (c *Client) ClearThreadUnreadCount(ctx context.Context, threadID string) (*domain.Thread, error) {
	id, err := c.writer(ctx)
	if err != nil {
		return nil, err
	}
	t, err := call[domain.Thread](ctx, c, id, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/clear-unread", nil)
	if err != nil {
		return nil, fmt.Errorf("clear unread: %w", err)
	}
	return &t, nil
}

// RequestUpload asks for a presigned URL to upload an attachment to.
func (c *Client) RequestUpload(ctx context.Context, threadID, fileName, mimeType string, size int64) (*storage.UploadURL, error) {
	id, err := c.writer(ctx)
	if err != nil {
		return nil, err
	}
	up, err := call[storage.UploadURL](ctx, c, id, http.MethodPost, "/v1/uploads", map[string]interface{}{
		"threadId": threadID,
		"fileName": fileName,
		"mimeType": mimeType,
		"fileSize": size,
	})
	if err != nil {
		return nil, fmt.Errorf("request upload: %w", err)
	}
	return &up, nil
}
