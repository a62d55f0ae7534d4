package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o640))
}

func resources(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Resource
	}

	return out
}

func TestEnumerateLocal(t *testing.T) {
	root := filepath.Join(t.TempDir(), "dir")
	writeFile(t, filepath.Join(root, "a.txt"))
	writeFile(t, filepath.Join(root, "sub", "b.txt"))
	writeFile(t, filepath.Join(root, "b.tmp"))
	writeFile(t, filepath.Join(root, ".git", "config"))

	items, err := enumerateLocal(root, "dir", []string{"."}, []string{".tmp"}, false)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"dir/a.txt", "dir/sub/b.txt"}, resources(items))
}

func TestEnumerateLocalMtimeRefs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "dir")
	writeFile(t, filepath.Join(root, "a"))

	items, err := enumerateLocal(root, "dir", nil, nil, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotEmpty(t, items[0].Ref)
}

func TestEnumerateLocalMissingRoot(t *testing.T) {
	items, err := enumerateLocal(filepath.Join(t.TempDir(), "absent"), "absent", nil, nil, false)
	require.NoError(t, err)
	assert.Empty(t, items)
}
