package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edumatch/messaging/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"t1"}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Timeout: time.Second, RetryMaxElapsed: 5 * time.Second})
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err := c.DoJSON(context.Background(), http.MethodPut, srv.URL, nil, map[string]string{"a": "b"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "t1", out.Data.ID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPostIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"write timed out"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Timeout: time.Second, RetryMaxElapsed: 5 * time.Second})
	err := c.DoJSON(context.Background(), http.MethodPost, srv.URL, nil, map[string]string{"content": "hi"}, nil)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "write timed out", se.Body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPostTransportErrorIsNotRetried(t *testing.T) {
	ft := &resetTransport{}
	c := NewClient(ClientConfig{
		Timeout:         time.Second,
		RetryMaxElapsed: 5 * time.Second,
		Transport:       func(http.RoundTripper) http.RoundTripper { return ft },
	})
	_, err := c.DoWithRetry(context.Background(), http.MethodPost, "http://messaging.invalid/v1/threads", []byte(`{}`), nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ft.calls))
}

type resetTransport struct{ calls int32 }

func (f *resetTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, errors.New("connection reset by peer")
}

func TestDoJSONClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not a participant"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Timeout: time.Second})
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "not a participant", se.Body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

type failingTransport struct{ calls int32 }

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, apperr.ErrUnavailable
}

func TestUnavailableTransportIsPermanent(t *testing.T) {
	ft := &failingTransport{}
	c := NewClient(ClientConfig{
		Timeout:   time.Second,
		Transport: func(http.RoundTripper) http.RoundTripper { return ft },
	})
	_, err := c.DoWithRetry(context.Background(), http.MethodGet, "http://users.invalid/users", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ft.calls))
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	c := NewClient(ClientConfig{Timeout: time.Second, RetryMaxElapsed: time.Minute})

	start := time.Now()
	_, err := c.DoWithRetry(ctx, http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
