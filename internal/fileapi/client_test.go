package fileapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL+"/v1", "p11", srv.Client(), StaticToken("tok"), discardLogger())
	c.sleepFunc = func(context.Context, time.Duration) error { return nil }

	return c
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)

	resp, err := c.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	drainBody(resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoReturnsClientErrorsImmediately(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)

	resp, err := c.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)

	err = checkStatus(resp)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)

	_, err := c.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

// failingTransport errors a fixed number of times before handing off to
// the real transport.
type failingTransport struct {
	failures *atomic.Int32
}

func (f *failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.failures.Add(1)

	return nil, io.ErrUnexpectedEOF
}

func TestDoRotatesPoolOnConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	var failures, rotations atomic.Int32

	c := newTestClient(srv)
	c.httpClient = &http.Client{Transport: &failingTransport{failures: &failures}}
	c.newPool = func() *http.Client {
		rotations.Add(1)

		return srv.Client()
	}

	resp, err := c.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	drainBody(resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, int32(1), rotations.Load())
}

func TestDoHonorsCanceledContext(t *testing.T) {
	c := NewClient("http://localhost:1/v1", "p11", &http.Client{},
		StaticToken("tok"), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.do(ctx, http.MethodGet, "http://localhost:1/", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, classifyStatus(http.StatusBadRequest), ErrBadRequest)
	assert.ErrorIs(t, classifyStatus(http.StatusUnauthorized), ErrUnauthorized)
	assert.ErrorIs(t, classifyStatus(http.StatusNotFound), ErrNotFound)
	assert.ErrorIs(t, classifyStatus(http.StatusConflict), ErrConflict)
	assert.ErrorIs(t, classifyStatus(http.StatusBadGateway), ErrServerError)
	assert.NoError(t, classifyStatus(http.StatusOK))
}
