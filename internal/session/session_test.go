package session

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mintToken builds an unsigned token with the given exp.
func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()

	payload, err := json.Marshal(map[string]any{"exp": exp.Unix()})
	require.NoError(t, err)

	enc := base64.RawURLEncoding

	return enc.EncodeToString([]byte(`{}`)) + "." + enc.EncodeToString(payload) + ".sig"
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStoreAt(filepath.Join(t.TempDir(), "session"))
}

func TestUpdateAndRead(t *testing.T) {
	s := newTestStore(t)

	access := mintToken(t, time.Now().Add(time.Hour))
	refresh := mintToken(t, time.Now().Add(24*time.Hour))

	require.NoError(t, s.Update("test", "p11", "import", access, refresh))

	got, err := s.Token("test", "p11", "import")
	require.NoError(t, err)
	assert.Equal(t, access, got)

	gotRefresh, err := s.RefreshToken("test", "p11", "import")
	require.NoError(t, err)
	assert.Equal(t, refresh, gotRefresh)

	// Other keys stay empty.
	other, err := s.Token("test", "p11", "export")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUpdateReplacesInPlace(t *testing.T) {
	s := newTestStore(t)

	old := mintToken(t, time.Now().Add(-time.Hour))
	require.NoError(t, s.Update("test", "p11", "import", old, "r1"))

	fresh := mintToken(t, time.Now().Add(time.Hour))
	require.NoError(t, s.Update("test", "p11", "import", fresh, ""))

	got, err := s.Token("test", "p11", "import")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	// Empty refresh removes the stored refresh entry.
	gotRefresh, err := s.RefreshToken("test", "p11", "import")
	require.NoError(t, err)
	assert.Empty(t, gotRefresh)
}

func TestExpired(t *testing.T) {
	s := newTestStore(t)

	// No store file at all.
	assert.True(t, s.Expired("test", "p11", "import"))

	require.NoError(t, s.Update("test", "p11", "import", mintToken(t, time.Now().Add(-time.Minute)), ""))
	assert.True(t, s.Expired("test", "p11", "import"))

	require.NoError(t, s.Update("test", "p11", "import", mintToken(t, time.Now().Add(time.Hour)), ""))
	assert.False(t, s.Expired("test", "p11", "import"))
}

func TestExpiresSoon(t *testing.T) {
	s := newTestStore(t)

	assert.False(t, s.ExpiresSoon("test", "p11", "import", 10))

	require.NoError(t, s.Update("test", "p11", "import", mintToken(t, time.Now().Add(5*time.Minute)), ""))
	assert.True(t, s.ExpiresSoon("test", "p11", "import", 10))

	require.NoError(t, s.Update("test", "p11", "import", mintToken(t, time.Now().Add(time.Hour)), ""))
	assert.False(t, s.ExpiresSoon("test", "p11", "import", 10))
}

func TestClear(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Update("test", "p11", "import", mintToken(t, time.Now().Add(time.Hour)), "r"))
	require.NoError(t, s.Clear())

	got, err := s.Token("test", "p11", "import")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes not meaningful on windows")
	}

	s := newTestStore(t)
	require.NoError(t, s.Update("test", "p11", "import", "tok", ""))

	info, err := os.Stat(s.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestConfigStore(t *testing.T) {
	c := NewConfigAt(filepath.Join(t.TempDir(), "config"))

	_, err := c.APIKey("test", "p11")
	require.ErrorIs(t, err, ErrNoAPIKey)

	key := mintToken(t, time.Now().Add(365*24*time.Hour))
	require.NoError(t, c.Update("test", "p11", key))

	got, err := c.APIKey("test", "p11")
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.False(t, c.KeyExpired("test", "p11"))

	require.NoError(t, c.Delete("test", "p11"))
	assert.True(t, c.KeyExpired("test", "p11"))
}
