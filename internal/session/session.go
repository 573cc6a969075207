// Package session resolves who the current caller is for outbound calls
// to the messaging API. Resolutions are cached so every transport call
// does not go back to the auth layer.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edumatch/messaging/internal/apperr"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 30 * time.Second

// Identity is the authenticated caller. Token is the credential sent to
// the messaging API on its behalf.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Token  string `json:"-"`
}

// Provider looks the session up. It returns (nil, nil) when nobody is
// signed in.
type Provider interface {
	Current(ctx context.Context) (*Identity, error)
}

type ProviderFunc func(ctx context.Context) (*Identity, error)

func (f ProviderFunc) Current(ctx context.Context) (*Identity, error) { return f(ctx) }

type Option func(*Resolver)

func WithTTL(d time.Duration) Option { return func(r *Resolver) { r.ttl = d } }

func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// Resolver caches the provider's answer for ttl. Only successful
// resolutions are cached.
type Resolver struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time
	group    singleflight.Group

	mu        sync.Mutex
	cached    *Identity
	fetchedAt time.Time
	gen       uint64
}

func NewResolver(p Provider, opts ...Option) *Resolver {
	r := &Resolver{provider: p, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the cached identity or asks the provider. It fails with
// apperr.ErrAuthRequired when there is no session.
func (r *Resolver) Resolve(ctx context.Context) (*Identity, error) {
	r.mu.Lock()
	if r.cached != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		id := *r.cached
		r.mu.Unlock()
		return &id, nil
	}
	gen := r.gen
	r.mu.Unlock()

	v, err, _ := r.group.Do("session", func() (interface{}, error) {
		return r.provider.Current(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	id, _ := v.(*Identity)
	if id == nil || id.UserID == "" {
		return nil, apperr.ErrAuthRequired
	}

	r.mu.Lock()
	// A logout while the lookup was in flight wins.
	if r.gen == gen {
		cp := *id
		r.cached = &cp
		r.fetchedAt = r.now()
	}
	r.mu.Unlock()
	out := *id
	return &out, nil
}

// Invalidate drops the cached identity, e.g. on logout.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.fetchedAt = time.Time{}
	r.gen++
	r.mu.Unlock()
}
