package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()

	c, err := Open(t.TempDir(), UploadRequest, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func TestCreateReadRemoveDestroy(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	key := filepath.Join("/data", "project", "dir")
	require.NoError(t, c.Create(ctx, key))

	exists, err := c.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	items := []Item{
		{ResourcePath: "dir/a.txt", IntegrityReference: "1700000000.5"},
		{ResourcePath: "dir/b.txt"},
	}
	require.NoError(t, c.AddMany(ctx, key, items))

	got, err := c.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, items, got)

	require.NoError(t, c.Remove(ctx, key, "dir/a.txt"))

	got, err = c.Read(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dir/b.txt", got[0].ResourcePath)

	require.NoError(t, c.Destroy(ctx, key))

	exists, err = c.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAddManyDuplicateIsHardError(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	key := "/data/dir"
	require.NoError(t, c.Create(ctx, key))
	require.NoError(t, c.AddMany(ctx, key, []Item{{ResourcePath: "dir/a"}}))

	err := c.AddMany(ctx, key, []Item{{ResourcePath: "dir/a"}})
	require.ErrorIs(t, err, ErrDuplicateItem)

	// The failed transaction must not have inserted anything.
	got, readErr := c.Read(ctx, key)
	require.NoError(t, readErr)
	assert.Len(t, got, 1)
}

func TestBasenameCollision(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	// Two roots sharing a basename get distinct tables.
	keyA := "/home/alice/data"
	keyB := "/home/bob/data"

	require.NoError(t, c.Create(ctx, keyA))
	require.NoError(t, c.Create(ctx, keyB))

	require.NoError(t, c.AddMany(ctx, keyA, []Item{{ResourcePath: "data/x"}}))

	gotB, err := c.Read(ctx, keyB)
	require.NoError(t, err)
	assert.Empty(t, gotB)

	gotA, err := c.Read(ctx, keyA)
	require.NoError(t, err)
	assert.Len(t, gotA, 1)
}

func TestOverviewAndDestroyAll(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	require.NoError(t, c.Create(ctx, "/a/dir1"))
	require.NoError(t, c.Create(ctx, "/b/dir2"))
	require.NoError(t, c.AddMany(ctx, "/a/dir1", []Item{{ResourcePath: "dir1/f"}}))

	infos, err := c.Overview(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "dir1", infos[0].DisplayName)
	assert.Equal(t, int64(1), infos[0].Count)
	assert.NotEmpty(t, infos[0].OldestAt)
	assert.Equal(t, "dir2", infos[1].DisplayName)
	assert.Equal(t, int64(0), infos[1].Count)

	require.NoError(t, c.DestroyAll(ctx))

	infos, err = c.Overview(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestReopenSeesPendingWork(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := Open(dir, DownloadRequest, nil)
	require.NoError(t, err)

	key := "/data/dir"
	require.NoError(t, c.Create(ctx, key))
	require.NoError(t, c.AddMany(ctx, key, []Item{{ResourcePath: "dir/pending", IntegrityReference: "etag-1"}}))
	require.NoError(t, c.Close())

	reopened, err := Open(dir, DownloadRequest, nil)
	require.NoError(t, err)
	defer reopened.Close()

	exists, err := reopened.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := reopened.Read(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "etag-1", got[0].IntegrityReference)
}
