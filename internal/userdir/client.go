// Package userdir talks to the user-profile service: single and bulk
// profile fetches and subscription plan lookup.
package userdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edumatch/messaging/internal/apperr"
	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/httpclient"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	SingleTimeout = 15 * time.Second
	BulkTimeout   = 30 * time.Second
)

// profile is the user service's wire form.
type profile struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	Image  *string `json:"image"`
	Role   string  `json:"role"`
	Status string  `json:"status"`
}

func (p profile) user() domain.User {
	u := domain.User{
		ID:     p.ID,
		Name:   p.Name,
		Image:  p.Image,
		Type:   domain.TypeFromRole(p.Role),
		Status: domain.StatusOffline,
	}
	if domain.UserStatus(p.Status) == domain.StatusOnline {
		u.Status = domain.StatusOnline
	}
	return u
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type BreakerConfig struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

type Client struct {
	baseURL string
	token   func() string
	http    *httpclient.Client
	cb      *gobreaker.CircuitBreaker
	log     *zap.SugaredLogger
}

// New builds a client for the service at baseURL. token supplies the
// bearer credential per call and may be nil.
func New(baseURL string, token func() string, bc BreakerConfig, log *zap.SugaredLogger) *Client {
	if bc.MaxFailures == 0 {
		bc.MaxFailures = 5
	}
	if bc.Timeout == 0 {
		bc.Timeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "user-service",
		MaxRequests: 1,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		cb:      cb,
		log:     log,
	}
	c.http = httpclient.NewClient(httpclient.ClientConfig{
		Timeout:         BulkTimeout,
		RetryMaxElapsed: 5 * time.Second,
		Transport: func(next http.RoundTripper) http.RoundTripper {
			return breakerTransport{next: next, cb: cb}
		},
	})
	return c
}

// breakerTransport counts network errors and 5xx answers as failures.
type breakerTransport struct {
	next http.RoundTripper
	cb   *gobreaker.CircuitBreaker
}

func (rt breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := rt.cb.Execute(func() (interface{}, error) {
		resp, err := rt.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", apperr.ErrUnavailable, err)
		}
		return nil, err
	}
	return res.(*http.Response), nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}
	return h
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Get fetches one user.
func (c *Client) Get(ctx context.Context, id string) (*domain.User, error) {
	if !c.Configured() {
		return nil, apperr.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, SingleTimeout)
	defer cancel()
	var out envelope[profile]
	if err := c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(id), c.header(), nil, &out); err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u := out.Data.user()
	if u.ID == "" {
		u.ID = id
	}
	return &u, nil
}

// GetMany fetches the listed users in one call. Unknown ids are absent
// from the result.
func (c *Client) GetMany(ctx context.Context, ids []string) ([]domain.User, error) {
	if !c.Configured() {
		return nil, apperr.ErrNotConfigured
	}
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, BulkTimeout)
	defer cancel()
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	return c.list(ctx, c.baseURL+"/users?"+q.Encode())
}

// All returns the full user directory.
func (c *Client) All(ctx context.Context) ([]domain.User, error) {
	if !c.Configured() {
		return nil, apperr.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, BulkTimeout)
	defer cancel()
	return c.list(ctx, c.baseURL+"/users")
}

func (c *Client) list(ctx context.Context, u string) ([]domain.User, error) {
	var out envelope[[]profile]
	if err := c.http.DoJSON(ctx, http.MethodGet, u, c.header(), nil, &out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]domain.User, 0, len(out.Data))
	for _, p := range out.Data {
		users = append(users, p.user())
	}
	return users, nil
}

// Profile returns the signed-in user's profile.
func (c *Client) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	if !c.Configured() {
		return nil, apperr.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, SingleTimeout)
	defer cancel()
	var out envelope[profile]
	if err := c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(userID), c.header(), nil, &out); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &domain.Profile{
		UserID: userID,
		Name:   out.Data.Name,
		Email:  out.Data.Email,
		Type:   domain.TypeFromRole(out.Data.Role),
	}, nil
}

// Plan returns the user's subscription plan. A user without a
// subscription is on the free plan.
func (c *Client) Plan(ctx context.Context, userID string) (domain.Plan, error) {
	if !c.Configured() {
		return "", apperr.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, SingleTimeout)
	defer cancel()
	var out envelope[struct {
		Plan string `json:"plan"`
	}]
	err := c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(userID)+"/subscription", c.header(), nil, &out)
	if errors.Is(err, apperr.ErrNotFound) {
		return domain.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("get plan: %w", err)
	}
	return domain.ParsePlan(out.Data.Plan), nil
}
