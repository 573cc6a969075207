package usercache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"go.uber.org/zap"
)

const (
	DirectoryRefresh = 30 * time.Second
	DirectoryTimeout = 30 * time.Second
	SnapshotMaxAge   = 5 * time.Minute
)

// Lister returns every user.
type Lister interface {
	All(ctx context.Context) ([]domain.User, error)
}

// Directory is an in-memory snapshot of all users, persisted so a
// restart or a failing user service still has something to show.
type Directory struct {
	src     Lister
	store   SnapshotStore
	now     func() time.Time
	refresh time.Duration
	timeout time.Duration
	maxAge  time.Duration
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	users    map[string]domain.User
	loadedAt time.Time
}

type DirectoryOption func(*Directory)

func WithRefresh(d time.Duration) DirectoryOption { return func(x *Directory) { x.refresh = d } }

func WithFetchTimeout(d time.Duration) DirectoryOption { return func(x *Directory) { x.timeout = d } }

func WithDirectoryClock(now func() time.Time) DirectoryOption {
	return func(x *Directory) { x.now = now }
}

func NewDirectory(src Lister, store SnapshotStore, log *zap.SugaredLogger, opts ...DirectoryOption) *Directory {
	d := &Directory{
		src:     src,
		store:   store,
		now:     time.Now,
		refresh: DirectoryRefresh,
		timeout: DirectoryTimeout,
		maxAge:  SnapshotMaxAge,
		log:     log,
		users:   map[string]domain.User{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Lookup returns a user from the snapshot.
func (d *Directory) Lookup(id string) (domain.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// Users returns the snapshot contents.
func (d *Directory) Users() []domain.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	return out
}

func (d *Directory) LoadedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadedAt
}

func (d *Directory) apply(users []domain.User, at time.Time) {
	m := make(map[string]domain.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	d.mu.Lock()
	d.users = m
	d.loadedAt = at
	d.mu.Unlock()
}

// Restore loads the persisted snapshot when it is younger than maxAge,
// or regardless of age when stale is true.
func (d *Directory) Restore(ctx context.Context, stale bool) bool {
	if d.store == nil {
		return false
	}
	snap, err := d.store.Load(ctx)
	if err != nil {
		d.log.Warnw("load user snapshot failed", "error", err)
		return false
	}
	if snap == nil {
		return false
	}
	if !stale && d.now().Sub(snap.SavedAt) >= d.maxAge {
		return false
	}
	d.apply(snap.Users, snap.SavedAt)
	return true
}

// Refresh fetches all users. On failure the current snapshot is kept, or
// the persisted one is used when nothing is loaded yet.
func (d *Directory) Refresh(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	users, err := d.src.All(fctx)
	if err != nil {
		d.mu.RLock()
		empty := len(d.users) == 0
		d.mu.RUnlock()
		if empty && d.Restore(ctx, true) {
			d.log.Warnw("user directory refresh failed, using persisted snapshot", "error", err)
		}
		return fmt.Errorf("refresh user directory: %w", err)
	}

	now := d.now()
	d.apply(users, now)
	if d.store != nil {
		if err := d.store.Save(ctx, Snapshot{Users: users, SavedAt: now}); err != nil {
			d.log.Warnw("persist user snapshot failed", "error", err)
		}
	}
	return nil
}

// Run restores or fetches the snapshot, then refreshes it until ctx is
// cancelled. Refresh failures are logged and swallowed.
func (d *Directory) Run(ctx context.Context) error {
	if !d.Restore(ctx, false) {
		if err := d.Refresh(ctx); err != nil {
			d.log.Warnw("initial user directory load failed", "error", err)
		}
	}
	t := time.NewTicker(d.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				d.log.Debugw("user directory refresh failed", "error", err)
			}
		}
	}
}
