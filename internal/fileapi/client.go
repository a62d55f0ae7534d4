package fileapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Retry constants. The upstream proxy occasionally returns 500/504 on
// timeouts without trying a new upstream, so those are worth retrying;
// connection errors additionally cost a reconnect sleep and a fresh
// connection pool.
const (
	maxAttempts    = 5
	reconnectSleep = 5 * time.Second
	userAgent      = "tacl/0.1"
)

// TokenProvider supplies the bearer token for each request. Implemented
// by authapi's refreshing provider, so every chunk of a long transfer
// picks up refreshed tokens automatically.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token. Used for
// one-shot operations and tests.
type StaticToken string

func (t StaticToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

// Client talks to one (environment, project) slice of the file API.
// It owns the HTTP connection pool and rotates it when the connection
// drops, so callers holding the Client transparently reuse the healthy
// pool on subsequent requests.
type Client struct {
	baseURL    string
	pnum       string
	httpClient *http.Client
	tokens     TokenProvider
	logger     *slog.Logger

	// sleepFunc waits before a reconnect attempt. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// newPool builds a replacement HTTP client after a connection error.
	// Tests override it to observe rotation.
	newPool func() *http.Client
}

// NewClient creates a file API client rooted at baseURL/pnum.
func NewClient(baseURL, pnum string, httpClient *http.Client, tokens TokenProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    baseURL,
		pnum:       pnum,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		sleepFunc:  timeSleep,
		newPool:    func() *http.Client { return &http.Client{} },
	}
}

// DefaultGroup returns the project's member group, which owns uploads
// when the caller names no group.
func (c *Client) DefaultGroup() string {
	return c.pnum + "-member-group"
}

// do executes one request with bounded retries. The body, when present,
// is an in-memory buffer so it can be replayed on retry. Responses with
// 2xx and 4xx statuses are returned to the caller as-is (the caller
// checks status); 500 and 504 consume an attempt; connection errors
// sleep, rotate the connection pool, and consume an attempt.
func (c *Client) do(ctx context.Context, method, url string, headers http.Header, body []byte) (*http.Response, error) {
	attempts := maxAttempts

	var lastStatus int

	for attempts > 0 {
		resp, err := c.doOnce(ctx, method, url, headers, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fileapi: request canceled: %w", ctx.Err())
			}

			attempts--

			if attempts == 0 {
				return nil, fmt.Errorf("fileapi: %s %s: connection failed after %d attempts: %w",
					method, url, maxAttempts, err)
			}

			c.logger.Debug("connection error, rebuilding pool",
				slog.String("method", method),
				slog.Int("attempts_left", attempts),
				slog.String("error", err.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, reconnectSleep); sleepErr != nil {
				return nil, fmt.Errorf("fileapi: request canceled: %w", sleepErr)
			}

			c.httpClient = c.newPool()

			continue
		}

		if resp.StatusCode == http.StatusInternalServerError || resp.StatusCode == http.StatusGatewayTimeout {
			lastStatus = resp.StatusCode
			drainBody(resp)

			attempts--

			c.logger.Debug("upstream timeout, retrying",
				slog.String("method", method),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts_left", attempts),
			)

			continue
		}

		return resp, nil
	}

	return nil, &APIError{
		StatusCode: lastStatus,
		Message:    "retries exhausted",
		Err:        classifyStatus(lastStatus),
	}
}

// doOnce builds and executes a single request.
func (c *Client) doOnce(ctx context.Context, method, url string, headers http.Header, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	return c.httpClient.Do(req)
}

// checkStatus converts a non-2xx response into an *APIError, consuming
// and closing the body. For 2xx it returns nil and leaves the body open.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	msg, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(msg),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// drainBody discards and closes a response body so the connection can be
// reused.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
