package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/edumatch/messaging/internal/apperr"
	"github.com/edumatch/messaging/internal/auth"
	"github.com/edumatch/messaging/internal/httpclient"
	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider reads the identity from a bearer token the process
// already holds. The server verifies the signature; here only the claims
// and expiry are read.
type TokenProvider struct {
	Token func() string
	now   func() time.Time
}

func NewTokenProvider(token func() string) *TokenProvider {
	return &TokenProvider{Token: token, now: time.Now}
}

// StaticToken is a convenience for a token fixed by configuration.
func StaticToken(token string) func() string { return func() string { return token } }

func (p *TokenProvider) Current(context.Context) (*Identity, error) {
	tok := strings.TrimSpace(p.Token())
	if tok == "" {
		return nil, nil
	}
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return nil, nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(p.now()) {
		return nil, nil
	}
	if claims.Subject == "" {
		return nil, nil
	}
	return &Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   claims.Role,
		Token:  tok,
	}, nil
}

// HTTPProvider asks the messaging API who the token belongs to.
type HTTPProvider struct {
	baseURL string
	token   func() string
	client  *httpclient.Client
}

func NewHTTPProvider(baseURL string, token func() string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  httpclient.NewClient(httpclient.ClientConfig{Timeout: 10 * time.Second, RetryMaxElapsed: 5 * time.Second}),
	}
}

func (p *HTTPProvider) Current(ctx context.Context) (*Identity, error) {
	tok := p.token()
	if tok == "" {
		return nil, nil
	}
	var out struct {
		Data Identity `json:"data"`
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	err := p.client.DoJSON(ctx, http.MethodGet, p.baseURL+"/v1/me", h, nil, &out)
	if errors.Is(err, apperr.ErrAuthRequired) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out.Data.Token = tok
	return &out.Data, nil
}
