package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edumatch/messaging/internal/apperr"
	"github.com/edumatch/messaging/internal/domain"
	"github.com/gorilla/websocket"
)

// Frame types pushed by the server.
const (
	frameSubscribed     = "subscribed"
	frameMessageCreated = "message.created"
	frameThreadCreated  = "thread.created"
	frameThreadUpdated  = "thread.updated"
)

type frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Thread  *domain.Thread  `json:"thread,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
}

// Subscription is a running push or poll loop. Close stops it and waits
// for the loop to exit.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSubscription(ctx context.Context) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{cancel: cancel, done: make(chan struct{})}, ctx
}

func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed when the loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

type SubscribeOptions struct {
	// OnReconnect runs each time a dropped stream is re-established,
	// before frames from the new connection are delivered. Events pushed
	// while the stream was down are not replayed.
	OnReconnect func()
}

type SubscribeOption func(*SubscribeOptions)

func OnReconnect(fn func()) SubscribeOption {
	return func(o *SubscribeOptions) { o.OnReconnect = fn }
}

// SubscribeMessages delivers every message created in threadID.
func (c *Client) SubscribeMessages(ctx context.Context, threadID string, fn func(domain.Message), opts ...SubscribeOption) (*Subscription, error) {
	return c.subscribe(ctx, "message:"+threadID, func(f frame) {
		if f.Type == frameMessageCreated && f.Message != nil {
			fn(*f.Message)
		}
	}, opts)
}

// SubscribeThreadCreated delivers threads created with the caller as a
// participant.
func (c *Client) SubscribeThreadCreated(ctx context.Context, fn func(domain.Thread), opts ...SubscribeOption) (*Subscription, error) {
	return c.subscribe(ctx, "threads", func(f frame) {
		if f.Type == frameThreadCreated && f.Thread != nil {
			fn(*f.Thread)
		}
	}, opts)
}

// SubscribeThreadUpdates delivers every change to userID's threads:
// creation, new messages and unread resets.
func (c *Client) SubscribeThreadUpdates(ctx context.Context, userID string, fn func(domain.Thread), opts ...SubscribeOption) (*Subscription, error) {
	return c.subscribe(ctx, "user:"+userID, func(f frame) {
		if (f.Type == frameThreadUpdated || f.Type == frameThreadCreated) && f.Thread != nil {
			fn(*f.Thread)
		}
	}, opts)
}

// PollThreads lists userID's threads every PollInterval. Failed polls are
// logged and skipped.
func (c *Client) PollThreads(ctx context.Context, userID string, fn func([]domain.Thread)) *Subscription {
	sub, ctx := newSubscription(ctx)
	go func() {
		defer close(sub.done)
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			threads, err := c.ListThreads(ctx, userID)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Debugw("thread poll failed", "user_id", userID, "error", err)
				}
				continue
			}
			fn(threads)
		}
	}()
	return sub
}

func (c *Client) wsURL(topic string) (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	u.RawQuery = url.Values{"topic": {topic}}.Encode()
	return u.String(), nil
}

// subscribe dials once synchronously so configuration and auth problems
// surface to the caller, then keeps the stream alive with reconnects
// until ctx is cancelled or Close is called.
func (c *Client) subscribe(ctx context.Context, topic string, handle func(frame), opts []SubscribeOption) (*Subscription, error) {
	var o SubscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !c.Configured() {
		return nil, apperr.ErrNotConfigured
	}
	id, err := c.Caller(ctx)
	if err != nil {
		return nil, err
	}
	u, err := c.wsURL(topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	conn, err := c.dial(ctx, u, c.headers(id))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub, ctx := newSubscription(ctx)
	go func() {
		defer close(sub.done)
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0
		b.MaxInterval = 30 * time.Second
		for {
			err := c.stream(ctx, conn, handle)
			conn = nil
			if ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			c.log.Infow("subscription dropped", "topic", topic, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			id, err := c.Caller(ctx)
			if err != nil {
				continue
			}
			conn, err = c.dial(ctx, u, c.headers(id))
			if err != nil {
				c.log.Debugw("resubscribe failed", "topic", topic, "error", err)
				continue
			}
			b.Reset()
			c.log.Infow("subscription restored", "topic", topic)
			if o.OnReconnect != nil {
				o.OnReconnect()
			}
		}
	}()
	return sub, nil
}

// dial connects and waits for the server's subscribed ack.
func (c *Client) dial(ctx context.Context, u string, h http.Header) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := d.DialContext(ctx, u, h)
	if err != nil {
		if resp != nil {
			if e := apperr.FromStatus(resp.StatusCode); e != nil {
				return nil, fmt.Errorf("%w: %v", e, err)
			}
		}
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ack frame
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != frameSubscribed {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first frame %q", ack.Type)
		}
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// stream reads frames until the connection fails or ctx ends.
func (c *Client) stream(ctx context.Context, conn *websocket.Conn, handle func(frame)) error {
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			c.log.Debugw("bad frame", "error", err)
			continue
		}
		handle(f)
	}
}
