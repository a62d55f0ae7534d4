package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacl-io/tacl/internal/authapi"
	"github.com/tacl-io/tacl/internal/env"
	"github.com/tacl-io/tacl/internal/session"
)

// hostRewriteTransport sends every request to the test server while
// keeping the request path and query intact.
type hostRewriteTransport struct {
	target *url.URL
}

func (t *hostRewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host

	return http.DefaultTransport.RoundTrip(r)
}

// pipeStdin replaces stdin with the given input for the duration of the
// test, so prompts read canned answers.
func pipeStdin(t *testing.T, input string) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	_, err = w.WriteString(input)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	old := os.Stdin
	os.Stdin = r

	t.Cleanup(func() {
		os.Stdin = old
		r.Close()
	})
}

func TestRegisterBasicRequestsQualifiedKind(t *testing.T) {
	var gotType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.URL.Query().Get("type")
		fmt.Fprint(w, `{"token":"at","refresh_token":"rt"}`)
	}))
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	e, err := env.Parse("alt")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := authapi.NewClient(e, &http.Client{Transport: &hostRewriteTransport{target: target}}, logger)

	dir := t.TempDir()
	store := session.NewStoreAt(filepath.Join(dir, "session"))
	cfg := session.NewConfigAt(filepath.Join(dir, "config"))

	pipeStdin(t, "my-api-key\n")

	withFlags(t, "alt", "p11", false, true)

	require.NoError(t, registerBasic(context.Background(), auth, store, cfg, e, "p11"))

	// The alt environment issues its own token kinds: the server is
	// asked for the same qualified kind the session is stored under.
	assert.Equal(t, "import-alt", gotType)

	access, err := store.Token("alt", "p11", "import-alt")
	require.NoError(t, err)
	assert.Equal(t, "at", access)

	key, err := cfg.APIKey("alt", "p11")
	require.NoError(t, err)
	assert.Equal(t, "my-api-key", key)
}
