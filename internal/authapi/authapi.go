// Package authapi exchanges credentials for tokens and implements the
// windowed refresh policy that keeps long transfers authenticated.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tacl-io/tacl/internal/env"
)

// ErrAuthn is returned when a credential exchange fails.
var ErrAuthn = errors.New("authapi: authentication failed")

// TokenPair is an access token with its optional refresh companion.
// The refresh token is absent once its counter is exhausted.
type TokenPair struct {
	Access  string `json:"token"`
	Refresh string `json:"refresh_token"`
}

// Client talks to the auth endpoints of one environment.
type Client struct {
	env        env.Environment
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds an auth client for the environment.
func NewClient(environment env.Environment, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{env: environment, httpClient: httpClient, logger: logger}
}

func (c *Client) tokenURL(pnum, method, kind string) string {
	u := fmt.Sprintf("%s/%s/auth/%s/token", c.env.BaseURL(), pnum, method)
	if kind != "" {
		u += "?" + url.Values{"type": {kind}}.Encode()
	}

	return u
}

// GetTokenBasic exchanges a long-lived API key for a token pair.
func (c *Client) GetTokenBasic(ctx context.Context, pnum, apiKey, kind string) (TokenPair, error) {
	return c.post(ctx, c.tokenURL(pnum, "basic", kind), apiKey, nil)
}

// GetTokenTSD exchanges user credentials plus OTP for a token pair.
// Educloud environments use the iam endpoint; everything else uses tsd.
func (c *Client) GetTokenTSD(ctx context.Context, pnum, apiKey, userName, password, otp, kind string) (TokenPair, error) {
	method := "tsd"
	if c.env.Educloud() {
		method = "iam"
	}

	body := map[string]string{
		"user_name": userName,
		"password":  password,
		"otp":       otp,
	}

	return c.post(ctx, c.tokenURL(pnum, method, kind), apiKey, body)
}

// GetTokenInstance exchanges a link id (plus optional secret challenge)
// for a token pair scoped to a specific remote path.
func (c *Client) GetTokenInstance(ctx context.Context, pnum, apiKey, linkID, secretChallenge, kind string) (TokenPair, error) {
	body := map[string]string{"id": linkID}
	if secretChallenge != "" {
		body["secret_challenge"] = secretChallenge
	}

	return c.post(ctx, c.tokenURL(pnum, "instances", kind), apiKey, body)
}

// Refresh trades a refresh token for a new pair. When the refresh
// counter is exhausted the response carries only an access token.
func (c *Client) Refresh(ctx context.Context, pnum, apiKey, refreshToken string) (TokenPair, error) {
	body := map[string]string{"refresh_token": refreshToken}

	return c.post(ctx, c.tokenURL(pnum, "refresh", ""), apiKey, body)
}

// RenewAPIKey asks the auth service for a replacement client secret
// before the current key expires. clientID is the key's aud claim.
func (c *Client) RenewAPIKey(ctx context.Context, pnum, clientID, apiKey string) (string, error) {
	target := fmt.Sprintf("%s/%s/auth/clients/secret", c.env.BaseURL(), pnum)
	body := map[string]string{
		"client_id":     clientID,
		"client_secret": apiKey,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("authapi: encoding renewal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("authapi: creating renewal request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authapi: renewing API key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: key renewal returned %d", ErrAuthn, resp.StatusCode)
	}

	var parsed struct {
		NewClientSecret string `json:"new_client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("authapi: decoding renewal response: %w", err)
	}

	if parsed.NewClientSecret == "" {
		return "", fmt.Errorf("%w: renewal response missing new key", ErrAuthn)
	}

	return parsed.NewClientSecret, nil
}

// post sends a JSON body with the API key as bearer and parses the
// token pair out of a 200/201 response.
func (c *Client) post(ctx context.Context, target, apiKey string, body map[string]string) (TokenPair, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return TokenPair{}, fmt.Errorf("authapi: encoding request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, reader)
	if err != nil {
		return TokenPair{}, fmt.Errorf("authapi: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("authapi: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)

		return TokenPair{}, fmt.Errorf("%w: HTTP %d: %s", ErrAuthn, resp.StatusCode, string(msg))
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return TokenPair{}, fmt.Errorf("authapi: decoding token response: %w", err)
	}

	if pair.Access == "" {
		return TokenPair{}, fmt.Errorf("%w: response missing token", ErrAuthn)
	}

	return pair, nil
}
