package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edumatch/messaging/internal/apperr"
)

type ClientConfig struct {
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	// Transport wraps the default transport, e.g. with a circuit breaker.
	Transport func(http.RoundTripper) http.RoundTripper
}

type Client struct {
	http *http.Client
	conf ClientConfig
}

// StatusError is returned for non-2xx answers. Err is the matching
// apperr sentinel when there is one.
type StatusError struct {
	Code int
	Body string
	Err  error
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("http %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

func NewClient(conf ClientConfig) *Client {
	if conf.MaxIdleConns == 0 {
		conf.MaxIdleConns = 32
	}
	if conf.IdleConnTimeout == 0 {
		conf.IdleConnTimeout = 90 * time.Second
	}
	var tr http.RoundTripper = &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    conf.MaxIdleConns,
		IdleConnTimeout: conf.IdleConnTimeout,
	}
	if conf.Transport != nil {
		tr = conf.Transport(tr)
	}
	return &Client{
		http: &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf: conf,
	}
}

// DoWithRetry sends the request with exponential backoff. Network errors
// and 5xx answers are retried for idempotent methods only; other statuses
// are returned as is. The body is rebuilt for every attempt.
func (c *Client) DoWithRetry(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	var resp *http.Response
	retry := idempotent(method)
	operation := func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		r, err := c.http.Do(req)
		if err != nil {
			// An open breaker will not close within this retry window.
			if !retry || errors.Is(err, apperr.ErrUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		if r.StatusCode >= 500 {
			b, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			r.Body.Close()
			err := &StatusError{Code: r.StatusCode, Body: errorMessage(b), Err: apperr.FromStatus(r.StatusCode)}
			if !retry {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	if b.MaxElapsedTime == 0 {
		b.MaxElapsedTime = 10 * time.Second
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

// idempotent reports whether a failed attempt may be replayed. A POST or
// PATCH whose answer was lost may already have been applied.
func idempotent(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodConnect:
		return false
	}
	return true
}

// DoJSON sends in as JSON (when non-nil) and decodes a 2xx answer into
// out. Non-2xx answers become a *StatusError.
func (c *Client) DoJSON(ctx context.Context, method, url string, header http.Header, in, out interface{}) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Accept", "application/json")
	if body != nil {
		h.Set("Content-Type", "application/json")
	}

	resp, err := c.DoWithRetry(ctx, method, url, body, h)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: errorMessage(b), Err: apperr.FromStatus(resp.StatusCode)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies and falls back to the raw text.
func errorMessage(b []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(b)
}
