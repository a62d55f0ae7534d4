package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacl-io/tacl/internal/cache"
	"github.com/tacl-io/tacl/internal/fileapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// requestLog records method+path pairs seen by a fake server.
type requestLog struct {
	mu   gosync.Mutex
	seen []string
}

func (l *requestLog) add(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, r.Method+" "+r.URL.Path)
}

func (l *requestLog) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0

	for _, s := range l.seen {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}

	return n
}

func listingJSON(names ...string) string {
	type entry struct {
		Filename string `json:"filename"`
	}

	files := make([]entry, len(names))
	for i, n := range names {
		files[i] = entry{Filename: n}
	}

	body, _ := json.Marshal(map[string]any{"files": files, "page": ""})

	return string(body)
}

func newUploadServer(t *testing.T, log *requestLog, listing string, putStatus func(path string) int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/p11/files/stream/", func(w http.ResponseWriter, r *http.Request) {
		log.add(r)

		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, listing)
		case http.MethodPut:
			status := http.StatusCreated
			if putStatus != nil {
				status = putStatus(r.URL.Path)
			}

			w.WriteHeader(status)
			fmt.Fprint(w, "{}")
		case http.MethodDelete:
			fmt.Fprint(w, "{}")
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func newTestClient(srv *httptest.Server) *fileapi.Client {
	return fileapi.NewClient(srv.URL+"/v1", "p11", srv.Client(), fileapi.StaticToken("tok"), discardLogger())
}

func openCaches(t *testing.T) (*cache.Cache, *cache.Cache) {
	t.Helper()

	dir := t.TempDir()

	tc, err := cache.Open(dir, cache.UploadRequest, nil)
	require.NoError(t, err)
	t.Cleanup(func() { tc.Close() })

	dc, err := cache.Open(dir, cache.UploadDelete, nil)
	require.NoError(t, err)
	t.Cleanup(func() { dc.Close() })

	return tc, dc
}

func TestUploadSyncPlansAndApplies(t *testing.T) {
	root := filepath.Join(t.TempDir(), "dir")
	writeFile(t, filepath.Join(root, "a"))
	writeFile(t, filepath.Join(root, "b"))

	log := &requestLog{}
	srv := newUploadServer(t, log, listingJSON("a", "c"), nil)
	tc, dc := openCaches(t)

	tr := New(UploadSync, newTestClient(srv), tc, dc, Options{Directory: root}, discardLogger())
	require.NoError(t, tr.Sync(context.Background()))

	assert.Equal(t, 1, log.count("PUT /v1/p11/files/stream/p11-member-group/dir/b"))
	assert.Equal(t, 0, log.count("PUT /v1/p11/files/stream/p11-member-group/dir/a"))
	assert.Equal(t, 1, log.count("DELETE /v1/p11/files/stream/p11-member-group/dir/c"))

	// A clean run leaves no work tables behind.
	exists, err := tc.Exists(context.Background(), tr.cacheKey())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUploadSyncAbortLeavesPendingWork(t *testing.T) {
	root := filepath.Join(t.TempDir(), "dir")
	writeFile(t, filepath.Join(root, "a"))
	writeFile(t, filepath.Join(root, "b"))

	log := &requestLog{}
	srv := newUploadServer(t, log, listingJSON(), func(path string) int {
		if strings.HasSuffix(path, "/dir/b") {
			return http.StatusForbidden
		}

		return http.StatusCreated
	})
	tc, dc := openCaches(t)

	tr := New(UploadSync, newTestClient(srv), tc, dc, Options{Directory: root}, discardLogger())
	require.Error(t, tr.Sync(context.Background()))

	// The completed item is gone, the failed one remains.
	rows, err := tc.Read(context.Background(), tr.cacheKey())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "dir/b", rows[0].ResourcePath)
}

func TestUploadSyncResumesFromCache(t *testing.T) {
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "dir")
	writeFile(t, filepath.Join(root, "a"))
	writeFile(t, filepath.Join(root, "b"))

	log := &requestLog{}
	srv := newUploadServer(t, log, listingJSON(), nil)
	tc, dc := openCaches(t)

	tr := New(UploadSync, newTestClient(srv), tc, dc, Options{Directory: root}, discardLogger())

	require.NoError(t, tc.Create(ctx, tr.cacheKey()))
	require.NoError(t, tc.AddMany(ctx, tr.cacheKey(), []cache.Item{{ResourcePath: "dir/b"}}))

	require.NoError(t, tr.Sync(ctx))

	// Resumed work skips planning entirely.
	assert.Equal(t, 0, log.count("GET "))
	assert.Equal(t, 0, log.count("PUT /v1/p11/files/stream/p11-member-group/dir/a"))
	assert.Equal(t, 1, log.count("PUT /v1/p11/files/stream/p11-member-group/dir/b"))

	exists, err := tc.Exists(ctx, tr.cacheKey())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUploadSyncSkipsVanishedLocalFile(t *testing.T) {
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "dir")
	writeFile(t, filepath.Join(root, "a"))

	log := &requestLog{}
	srv := newUploadServer(t, log, listingJSON(), nil)
	tc, dc := openCaches(t)

	tr := New(UploadSync, newTestClient(srv), tc, dc, Options{Directory: root}, discardLogger())

	require.NoError(t, tc.Create(ctx, tr.cacheKey()))
	require.NoError(t, tc.AddMany(ctx, tr.cacheKey(), []cache.Item{
		{ResourcePath: "dir/a"},
		{ResourcePath: "dir/ghost"},
	}))

	require.NoError(t, tr.Sync(ctx))

	assert.Equal(t, 1, log.count("PUT /v1/p11/files/stream/p11-member-group/dir/a"))
	assert.Equal(t, 0, log.count("PUT /v1/p11/files/stream/p11-member-group/dir/ghost"))
}

func TestUploadSyncIgnoredRemoteFileNotDeleted(t *testing.T) {
	root := filepath.Join(t.TempDir(), "dir")
	writeFile(t, filepath.Join(root, "a"))

	log := &requestLog{}
	srv := newUploadServer(t, log, listingJSON("a", "x.tmp"), nil)
	tc, dc := openCaches(t)

	tr := New(UploadSync, newTestClient(srv), tc, dc, Options{
		Directory:      root,
		IgnoreSuffixes: []string{".tmp"},
	}, discardLogger())
	require.NoError(t, tr.Sync(context.Background()))

	// The ignore rule filters both sides of the comparison, so the
	// ignored remote file is invisible rather than a mirroring delete.
	assert.Equal(t, 0, log.count("DELETE "))
	assert.Equal(t, 0, log.count("PUT "))
}

func TestDownloadSyncTransfersAndDeletes(t *testing.T) {
	target := t.TempDir()
	writeFile(t, filepath.Join(target, "dir", "z"))

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/p11/files/export/dir", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"files":[{"filename":"a","etag":"e1"}],"page":""}`)
	})
	mux.HandleFunc("/v1/p11/files/export/dir/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Etag", "e1")
		w.Header().Set("Content-Length", "5")
		fmt.Fprint(w, "hello")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tr := New(DownloadSync, newTestClient(srv), nil, nil, Options{
		Directory: "dir",
		TargetDir: target,
	}, discardLogger())

	require.NoError(t, tr.Sync(context.Background()))

	body, err := os.ReadFile(filepath.Join(target, "dir", "a"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = os.Stat(filepath.Join(target, "dir", "z"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadSyncPrunesEmptiedSubdirectories(t *testing.T) {
	target := t.TempDir()
	writeFile(t, filepath.Join(target, "dir", "sub", "deep", "z"))

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/p11/files/export/dir", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"files":[{"filename":"a"}],"page":""}`)
	})
	mux.HandleFunc("/v1/p11/files/export/dir/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Etag", "e1")
		w.Header().Set("Content-Length", "5")
		fmt.Fprint(w, "hello")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tr := New(DownloadSync, newTestClient(srv), nil, nil, Options{
		Directory: "dir",
		TargetDir: target,
	}, discardLogger())

	require.NoError(t, tr.Sync(context.Background()))

	// The emptied subtree is pruned; the sync root itself stays.
	_, err := os.Stat(filepath.Join(target, "dir", "sub"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(target, "dir", "a"))
	assert.NoError(t, err)
}
