// Package usercache keeps participant metadata close to the inbox: a
// per-user cache with a freshness window and a periodically refreshed
// snapshot of the whole directory.
package usercache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL       = 5 * time.Minute
	PreloadBatchSize = 10
	// FetchTimeout bounds a shared fetch, which outlives any one caller.
	FetchTimeout = 15 * time.Second
)

// Fetcher loads one user from the source of truth.
type Fetcher interface {
	Get(ctx context.Context, id string) (*domain.User, error)
}

type entry struct {
	user      domain.User
	fetchedAt time.Time
}

type Option func(*Cache)

func WithTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithDirectory lets lookups be answered from the directory snapshot.
func WithDirectory(d *Directory) Option { return func(c *Cache) { c.dir = d } }

type Cache struct {
	fetch Fetcher
	dir   *Directory
	ttl   time.Duration
	now   func() time.Time
	log   *zap.SugaredLogger
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

func New(fetch Fetcher, log *zap.SugaredLogger, opts ...Option) *Cache {
	c := &Cache{
		fetch:   fetch,
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     log,
		entries: map[string]entry{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Peek returns a fresh cached user without fetching.
func (c *Cache) Peek(id string) (*domain.User, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	u := e.user
	return &u, true
}

// Get returns the cached user, the directory's copy, or fetches it.
// Concurrent Gets for the same id share one fetch. A caller whose ctx
// ends stops waiting but the fetch carries on for the others.
func (c *Cache) Get(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := c.Peek(id); ok {
		return u, nil
	}
	if c.dir != nil {
		if u, ok := c.dir.Lookup(id); ok {
			c.Set(u)
			return c.policy(u), nil
		}
	}

	ch := c.group.DoChan(id, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		u, err := c.fetch.Get(fctx, id)
		if err != nil {
			return nil, err
		}
		c.Set(*u)
		return *u, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("fetch user %s: %w", id, r.Err)
		}
		return c.policy(r.Val.(domain.User)), nil
	}
}

// Set stores u as fetched now.
func (c *Cache) Set(u domain.User) {
	u = *c.policy(u)
	c.mu.Lock()
	c.entries[u.ID] = entry{user: u, fetchedAt: c.now()}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = map[string]entry{}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// policy hides social-login avatars on institutions.
func (c *Cache) policy(u domain.User) *domain.User {
	u.Image = domain.DisplayImage(u.Type, u.Image)
	return &u
}

// Unknown filters ids down to those neither cached nor in the directory.
func (c *Cache) Unknown(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := c.Peek(id); ok {
			continue
		}
		if c.dir != nil {
			if _, ok := c.dir.Lookup(id); ok {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// Preload fetches the unknown ids in batches of PreloadBatchSize, each
// batch concurrently. Failed fetches are logged and skipped.
func (c *Cache) Preload(ctx context.Context, ids []string) int {
	missing := c.Unknown(ids)
	loaded := 0
	for start := 0; start < len(missing); start += PreloadBatchSize {
		end := min(start+PreloadBatchSize, len(missing))
		batch := missing[start:end]

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range batch {
			id := id
			g.Go(func() error {
				if _, err := c.Get(gctx, id); err != nil {
					c.log.Debugw("preload user failed", "user_id", id, "error", err)
					return nil
				}
				mu.Lock()
				loaded++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			break
		}
	}
	return loaded
}

// PreloadThreads preloads the counterpart of every thread for viewerID.
func (c *Cache) PreloadThreads(ctx context.Context, viewerID string, threads []domain.Thread) int {
	ids := make([]string, 0, len(threads))
	for i := range threads {
		ids = append(ids, threads[i].Other(viewerID))
	}
	return c.Preload(ctx, ids)
}
