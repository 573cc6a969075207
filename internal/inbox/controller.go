package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edumatch/messaging/internal/apperr"
	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/session"
	"github.com/edumatch/messaging/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Transport is the subset of the messaging client the inbox uses.
type Transport interface {
	Caller(ctx context.Context) (*session.Identity, error)
	ListThreads(ctx context.Context, userID string) ([]domain.Thread, error)
	ListMessages(ctx context.Context, threadID string) ([]domain.Message, error)
	CreateThread(ctx context.Context, participantID string) (*domain.Thread, error)
	SendMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error)
	MarkRead(ctx context.Context, messageID string) (*domain.Message, error)
	ClearThreadUnreadCount(ctx context.Context, threadID string) (*domain.Thread, error)
	SubscribeMessages(ctx context.Context, threadID string, fn func(domain.Message), opts ...transport.SubscribeOption) (*transport.Subscription, error)
	SubscribeThreadUpdates(ctx context.Context, userID string, fn func(domain.Thread), opts ...transport.SubscribeOption) (*transport.Subscription, error)
	PollThreads(ctx context.Context, userID string, fn func([]domain.Thread)) *transport.Subscription
}

type Users interface {
	Get(ctx context.Context, id string) (*domain.User, error)
	PreloadThreads(ctx context.Context, viewerID string, threads []domain.Thread) int
}

type Profiles interface {
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
	Plan(ctx context.Context, userID string) (domain.Plan, error)
}

type Controller struct {
	m        *Machine
	tr       Transport
	users    Users
	profiles Profiles
	log      *zap.SugaredLogger

	mu        sync.Mutex
	viewerID  string
	distance  float64
	preloaded bool
	threadSub *transport.Subscription
	msgSub    *transport.Subscription
	msgSubFor string
}

func NewController(tr Transport, users Users, profiles Profiles, log *zap.SugaredLogger, now func() time.Time) *Controller {
	return &Controller{
		m:        NewMachine(now),
		tr:       tr,
		users:    users,
		profiles: profiles,
		log:      log,
	}
}

func (c *Controller) Machine() *Machine { return c.m }

func (c *Controller) View() View { return c.m.View() }

// ReportScroll records the viewport's distance from the bottom.
func (c *Controller) ReportScroll(distance float64) {
	c.mu.Lock()
	c.distance = distance
	c.mu.Unlock()
}

// Init resolves identity, profile and plan, loads threads, preloads their
// participants and applies route. Push updates start afterwards, with
// polling as the fallback when the push channel cannot be opened.
func (c *Controller) Init(ctx context.Context, route Route) error {
	if !c.m.Start() {
		return nil
	}
	if err := c.init(ctx, route); err != nil {
		c.m.LoadFailed()
		return err
	}
	return nil
}

func (c *Controller) init(ctx context.Context, route Route) error {
	id, err := c.tr.Caller(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.viewerID = id.UserID
	c.mu.Unlock()
	c.m.IdentityResolved(id.UserID)

	var profile *domain.Profile
	var plan domain.Plan
	var planErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := c.profiles.Profile(gctx, id.UserID)
		if err != nil {
			c.log.Warnw("profile lookup failed", "user_id", id.UserID, "error", err)
			p = &domain.Profile{UserID: id.UserID, Name: id.Name, Email: id.Email, Type: domain.TypeFromRole(id.Role)}
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		plan, planErr = c.profiles.Plan(gctx, id.UserID)
		return nil
	})
	var threads []domain.Thread
	g.Go(func() error {
		var err error
		threads, err = c.tr.ListThreads(gctx, id.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load inbox: %w", err)
	}
	c.m.ProfileResolved(*profile)
	if planErr != nil {
		c.log.Warnw("plan lookup failed", "user_id", id.UserID, "error", planErr)
	}
	c.m.PlanResolved(plan, planErr == nil)

	c.m.ThreadsLoaded(threads, route)
	c.preload(ctx, threads)
	c.m.UsersResolved()

	if sel := c.m.View().SelectedID; sel != "" {
		if err := c.loadMessages(ctx, sel); err != nil {
			c.log.Warnw("load messages failed", "thread_id", sel, "error", err)
		}
	}
	c.watchThreads(ctx, id.UserID)
	return nil
}

// preload fetches participants the first time threads show up.
func (c *Controller) preload(ctx context.Context, threads []domain.Thread) {
	if len(threads) == 0 {
		return
	}
	c.mu.Lock()
	if c.preloaded {
		c.mu.Unlock()
		return
	}
	c.preloaded = true
	viewer := c.viewerID
	c.mu.Unlock()
	n := c.users.PreloadThreads(ctx, viewer, threads)
	c.log.Debugw("preloaded users", "count", n)
}

func (c *Controller) watchThreads(ctx context.Context, userID string) {
	sub, err := c.tr.SubscribeThreadUpdates(ctx, userID, func(t domain.Thread) {
		c.m.ThreadUpdated(t)
		c.preload(ctx, []domain.Thread{t})
	}, transport.OnReconnect(func() { c.resyncThreads(ctx, userID) }))
	if err != nil {
		c.log.Infow("thread push unavailable, polling", "error", err)
		sub = c.tr.PollThreads(ctx, userID, func(ts []domain.Thread) {
			c.m.ThreadsPolled(ts)
			c.preload(ctx, ts)
		})
	}
	c.mu.Lock()
	c.threadSub = sub
	c.mu.Unlock()
}

// resyncThreads refetches the thread list after the push stream was down.
func (c *Controller) resyncThreads(ctx context.Context, userID string) {
	threads, err := c.tr.ListThreads(ctx, userID)
	if err != nil {
		c.log.Debugw("thread resync failed", "user_id", userID, "error", err)
		return
	}
	c.m.ThreadsPolled(threads)
	c.preload(ctx, threads)
}

// Select opens a thread the user clicked.
func (c *Controller) Select(ctx context.Context, threadID string) error {
	if !c.m.Select(threadID) {
		return nil
	}
	return c.loadMessages(ctx, threadID)
}

// Navigate applies a URL change.
func (c *Controller) Navigate(ctx context.Context, r Route) error {
	id := c.m.Navigate(r)
	if id == "" {
		return nil
	}
	return c.loadMessages(ctx, id)
}

func (c *Controller) loadMessages(ctx context.Context, threadID string) error {
	msgs, err := c.tr.ListMessages(ctx, threadID)
	if err != nil {
		return err
	}
	if !c.m.MessagesLoaded(threadID, msgs) {
		return nil
	}
	c.watchMessages(ctx, threadID)

	if _, err := c.tr.ClearThreadUnreadCount(ctx, threadID); err != nil {
		c.log.Debugw("clear unread failed", "thread_id", threadID, "error", err)
	} else {
		c.m.UnreadCleared(threadID)
	}
	c.markRead(ctx, msgs)
	return nil
}

func (c *Controller) markRead(ctx context.Context, msgs []domain.Message) {
	c.mu.Lock()
	viewer := c.viewerID
	c.mu.Unlock()
	for _, m := range msgs {
		if m.IsRead || m.SenderID == viewer {
			continue
		}
		if _, err := c.tr.MarkRead(ctx, m.ID); err != nil {
			c.log.Debugw("mark read failed", "message_id", m.ID, "error", err)
		}
	}
}

func (c *Controller) watchMessages(ctx context.Context, threadID string) {
	c.mu.Lock()
	if c.msgSubFor == threadID && c.msgSub != nil {
		c.mu.Unlock()
		return
	}
	old := c.msgSub
	c.msgSub, c.msgSubFor = nil, ""
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	sub, err := c.tr.SubscribeMessages(ctx, threadID, func(m domain.Message) {
		c.OnMessage(ctx, m)
	}, transport.OnReconnect(func() { c.resyncMessages(ctx, threadID) }))
	if err != nil {
		c.log.Infow("message push unavailable", "thread_id", threadID, "error", err)
		return
	}
	c.mu.Lock()
	c.msgSub, c.msgSubFor = sub, threadID
	c.mu.Unlock()
}

// resyncMessages merges history missed while the message stream was down.
func (c *Controller) resyncMessages(ctx context.Context, threadID string) {
	msgs, err := c.tr.ListMessages(ctx, threadID)
	if err != nil {
		c.log.Debugw("message resync failed", "thread_id", threadID, "error", err)
		return
	}
	if c.m.View().SelectedID != threadID {
		return
	}
	c.mu.Lock()
	distance := c.distance
	c.mu.Unlock()
	for _, m := range msgs {
		c.m.MessageReceived(m, distance)
	}
	c.markRead(ctx, msgs)
}

// OnMessage applies a pushed message. Messages landing in the open
// thread are marked read and keep its unread count at zero.
func (c *Controller) OnMessage(ctx context.Context, m domain.Message) ScrollAction {
	c.mu.Lock()
	distance, viewer := c.distance, c.viewerID
	c.mu.Unlock()

	action := c.m.MessageReceived(m, distance)
	if m.ThreadID == c.m.View().SelectedID && m.SenderID != viewer {
		c.markRead(ctx, []domain.Message{m})
		if _, err := c.tr.ClearThreadUnreadCount(ctx, m.ThreadID); err == nil {
			c.m.UnreadCleared(m.ThreadID)
		}
	}
	return action
}

// Send posts to the selected thread, or creates the thread first when a
// contact preview is open.
func (c *Controller) Send(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	if !c.m.CanReply() {
		return nil, fmt.Errorf("%w: upgrade your plan to reply", apperr.ErrForbidden)
	}
	v := c.m.View()
	switch {
	case v.SelectedID != "":
		in.ThreadID = v.SelectedID
	case v.ContactID != "":
		t, err := c.tr.CreateThread(ctx, v.ContactID)
		if err != nil {
			return nil, err
		}
		c.m.ThreadCreated(*t)
		c.watchMessages(ctx, t.ID)
		in.ThreadID = t.ID
	default:
		return nil, errors.New("no conversation selected")
	}

	msg, err := c.tr.SendMessage(ctx, in)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.distance = 0
	c.mu.Unlock()
	c.m.MessageReceived(*msg, 0)
	return msg, nil
}

// Counterpart returns the other participant of the open conversation,
// or the previewed contact.
func (c *Controller) Counterpart(ctx context.Context) (*domain.User, error) {
	v := c.m.View()
	if v.ContactID != "" {
		return c.users.Get(ctx, v.ContactID)
	}
	c.mu.Lock()
	viewer := c.viewerID
	c.mu.Unlock()
	for i := range v.Threads {
		if v.Threads[i].ID == v.SelectedID {
			return c.users.Get(ctx, v.Threads[i].Other(viewer))
		}
	}
	return nil, apperr.ErrNotFound
}

// Close stops push and poll loops.
func (c *Controller) Close() {
	c.mu.Lock()
	subs := []*transport.Subscription{c.threadSub, c.msgSub}
	c.threadSub, c.msgSub = nil, nil
	c.mu.Unlock()
	for _, s := range subs {
		if s != nil {
			s.Close()
		}
	}
}
