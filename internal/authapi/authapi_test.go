package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacl-io/tacl/internal/env"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rewriteTransport sends every request to the test server regardless of
// the host the environment resolves to, keeping the path intact so URL
// construction is still exercised.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host

	return http.DefaultTransport.RoundTrip(r)
}

func newAuthClient(t *testing.T, environment string, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	e, err := env.Parse(environment)
	require.NoError(t, err)

	return NewClient(e, &http.Client{Transport: &rewriteTransport{target: target}}, discardLogger())
}

type capturedRequest struct {
	path   string
	query  url.Values
	bearer string
	body   map[string]string
}

func captureHandler(t *testing.T, captured *capturedRequest, response string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.query = r.URL.Query()
		captured.bearer = r.Header.Get("Authorization")

		if r.Body != nil {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)

			if len(raw) > 0 {
				require.NoError(t, json.Unmarshal(raw, &captured.body))
			}
		}

		fmt.Fprint(w, response)
	})
}

func TestGetTokenBasic(t *testing.T) {
	var captured capturedRequest

	c := newAuthClient(t, "prod", captureHandler(t, &captured, `{"token":"at","refresh_token":"rt"}`))

	pair, err := c.GetTokenBasic(context.Background(), "p11", "api-key", "import")
	require.NoError(t, err)

	assert.Equal(t, TokenPair{Access: "at", Refresh: "rt"}, pair)
	assert.Equal(t, "/v1/p11/auth/basic/token", captured.path)
	assert.Equal(t, "import", captured.query.Get("type"))
	assert.Equal(t, "Bearer api-key", captured.bearer)
}

func TestGetTokenTSD(t *testing.T) {
	var captured capturedRequest

	c := newAuthClient(t, "prod", captureHandler(t, &captured, `{"token":"at"}`))

	pair, err := c.GetTokenTSD(context.Background(), "p11", "api-key", "user", "pass", "123456", "export")
	require.NoError(t, err)

	assert.Equal(t, "at", pair.Access)
	assert.Empty(t, pair.Refresh)
	assert.Equal(t, "/v1/p11/auth/tsd/token", captured.path)
	assert.Equal(t, map[string]string{
		"user_name": "user",
		"password":  "pass",
		"otp":       "123456",
	}, captured.body)
}

func TestGetTokenTSDEducloudUsesIAM(t *testing.T) {
	var captured capturedRequest

	c := newAuthClient(t, "ec-prod", captureHandler(t, &captured, `{"token":"at"}`))

	_, err := c.GetTokenTSD(context.Background(), "p11", "api-key", "user", "pass", "123456", "import")
	require.NoError(t, err)

	assert.Equal(t, "/v1/p11/auth/iam/token", captured.path)
}

func TestGetTokenInstance(t *testing.T) {
	var captured capturedRequest

	c := newAuthClient(t, "prod", captureHandler(t, &captured, `{"token":"at"}`))

	_, err := c.GetTokenInstance(context.Background(), "p11", "api-key", "link1", "secret", "import")
	require.NoError(t, err)

	assert.Equal(t, "/v1/p11/auth/instances/token", captured.path)
	assert.Equal(t, map[string]string{"id": "link1", "secret_challenge": "secret"}, captured.body)
}

func TestRefresh(t *testing.T) {
	var captured capturedRequest

	c := newAuthClient(t, "prod", captureHandler(t, &captured, `{"token":"at2","refresh_token":"rt2"}`))

	pair, err := c.Refresh(context.Background(), "p11", "api-key", "rt1")
	require.NoError(t, err)

	assert.Equal(t, TokenPair{Access: "at2", Refresh: "rt2"}, pair)
	assert.Equal(t, "/v1/p11/auth/refresh/token", captured.path)
	assert.Equal(t, map[string]string{"refresh_token": "rt1"}, captured.body)
}

func TestAuthFailure(t *testing.T) {
	c := newAuthClient(t, "prod", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))

	_, err := c.GetTokenBasic(context.Background(), "p11", "api-key", "import")
	require.ErrorIs(t, err, ErrAuthn)
	assert.Contains(t, err.Error(), "401")
}

func TestMissingTokenInResponse(t *testing.T) {
	c := newAuthClient(t, "prod", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))

	_, err := c.GetTokenBasic(context.Background(), "p11", "api-key", "import")
	require.ErrorIs(t, err, ErrAuthn)
}

func TestRenewAPIKey(t *testing.T) {
	var captured capturedRequest

	c := newAuthClient(t, "prod", captureHandler(t, &captured, `{"new_client_secret":"fresh-key"}`))

	key, err := c.RenewAPIKey(context.Background(), "p11", "client1", "old-key")
	require.NoError(t, err)

	assert.Equal(t, "fresh-key", key)
	assert.Equal(t, "/v1/p11/auth/clients/secret", captured.path)
	assert.Equal(t, map[string]string{
		"client_id":     "client1",
		"client_secret": "old-key",
	}, captured.body)
}
