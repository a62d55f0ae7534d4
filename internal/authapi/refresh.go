package authapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tacl-io/tacl/internal/session"
	"github.com/tacl-io/tacl/internal/token"
)

// Refresh window defaults: the client refreshes when now falls inside
// [target − RefreshBefore, target + RefreshAfter].
const (
	RefreshBefore = 5 * time.Minute
	RefreshAfter  = 10 * time.Minute
)

// RefreshParams identifies the session slot a refresh maintains.
type RefreshParams struct {
	Pnum   string
	Kind   string
	APIKey string

	// Before/After override the refresh window; zero means the default.
	Before time.Duration
	After  time.Duration

	Force bool
}

func (p RefreshParams) window() (time.Duration, time.Duration) {
	before, after := p.Before, p.After
	if before == 0 {
		before = RefreshBefore
	}

	if after == 0 {
		after = RefreshAfter
	}

	return before, after
}

// MaybeRefresh applies the windowed refresh policy. Outside the window
// (and without force) the caller's pair is returned untouched. Inside
// it, a successful refresh is persisted to the session store before
// returning, so concurrent transfers never replay a stale refresh
// token; a failed refresh falls back to the caller's access token.
func (c *Client) MaybeRefresh(
	ctx context.Context, store *session.Store, p RefreshParams,
	access, refresh string, target time.Time,
) TokenPair {
	return c.maybeRefreshAt(ctx, store, p, access, refresh, target, time.Now())
}

func (c *Client) maybeRefreshAt(
	ctx context.Context, store *session.Store, p RefreshParams,
	access, refresh string, target time.Time, now time.Time,
) TokenPair {
	if refresh == "" {
		return TokenPair{Access: access}
	}

	before, after := p.window()
	inWindow := !now.Before(target.Add(-before)) && !now.After(target.Add(after))

	if !inWindow && !p.Force {
		return TokenPair{Access: access, Refresh: refresh}
	}

	pair, err := c.Refresh(ctx, p.Pnum, p.APIKey, refresh)
	if err != nil {
		c.logger.Debug("token refresh failed, keeping current access token",
			slog.String("pnum", p.Pnum),
			slog.String("kind", p.Kind),
			slog.String("error", err.Error()),
		)

		// Keep the caller's refresh token so a later attempt can retry.
		return TokenPair{Access: access, Refresh: refresh}
	}

	if store != nil {
		if err := store.Update(c.env.String(), p.Pnum, p.Kind, pair.Access, pair.Refresh); err != nil {
			c.logger.Debug("persisting refreshed session failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if pair.Refresh == "" {
		c.logger.Debug("refresh chain exhausted, access-only pair stored",
			slog.String("pnum", p.Pnum),
			slog.String("kind", p.Kind),
		)
	}

	return pair
}

// Refresher is a token provider that applies MaybeRefresh before every
// request, so each chunk of a long transfer carries a live token. It
// implements fileapi.TokenProvider.
type Refresher struct {
	client *Client
	store  *session.Store
	params RefreshParams

	mu      sync.Mutex
	access  string
	refresh string
	target  time.Time
}

// NewRefresher builds a Refresher seeded with the current pair. The
// refresh target is the access token's expiry.
func NewRefresher(client *Client, store *session.Store, params RefreshParams, access, refresh string) *Refresher {
	r := &Refresher{
		client:  client,
		store:   store,
		params:  params,
		access:  access,
		refresh: refresh,
	}
	r.target = expiryOf(access)

	return r
}

func expiryOf(access string) time.Time {
	claims, err := token.Parse(access)
	if err != nil {
		return time.Time{}
	}

	return claims.Expiry()
}

// AccessToken returns a live access token, refreshing (and persisting)
// the pair when the window says so.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair := r.client.MaybeRefresh(ctx, r.store, r.params, r.access, r.refresh, r.target)

	if pair.Access != r.access && pair.Access != "" {
		r.access = pair.Access
		r.target = expiryOf(pair.Access)
	}

	r.refresh = pair.Refresh

	return r.access, nil
}

// Pair returns the current token pair, for callers that persist or
// display it.
func (r *Refresher) Pair() TokenPair {
	r.mu.Lock()
	defer r.mu.Unlock()

	return TokenPair{Access: r.access, Refresh: r.refresh}
}
