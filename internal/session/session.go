// Package session persists token pairs and long-lived API keys in YAML
// stores under the per-user config directory. Writes are atomic
// (temp file + rename) and owner-only, matching the layout shared with
// other clients of the same API.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tacl-io/tacl/internal/token"
)

// FilePerms restricts the session and config stores to the owning user.
const FilePerms = 0o600

// DirPerms is used when creating the config and data directories.
const DirPerms = 0o700

// refreshSuffix marks the refresh-token entry for a token kind.
const refreshSuffix = "_refresh"

// Data maps environment → project → token kind → token. Refresh tokens
// live next to their access token under "<kind>_refresh".
type Data map[string]map[string]map[string]string

// Store is a YAML-backed session store at a fixed path.
type Store struct {
	path string
}

// NewStore opens the session store in the per-user config directory.
func NewStore() (*Store, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	return &Store{path: filepath.Join(dir, "session")}, nil
}

// NewStoreAt opens a session store at an explicit path. Used by tests.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// load reads the store, returning an empty mapping when the file does
// not exist yet.
func (s *Store) load() (Data, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Data{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("session: reading %s: %w", s.path, err)
	}

	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", s.path, err)
	}

	if data == nil {
		data = Data{}
	}

	return data, nil
}

// Token returns the access token for (environment, pnum, kind), or ""
// when none is stored.
func (s *Store) Token(environment, pnum, kind string) (string, error) {
	data, err := s.load()
	if err != nil {
		return "", err
	}

	return data[environment][pnum][kind], nil
}

// RefreshToken returns the refresh token paired with (environment, pnum,
// kind), or "" when none is stored.
func (s *Store) RefreshToken(environment, pnum, kind string) (string, error) {
	data, err := s.load()
	if err != nil {
		return "", err
	}

	return data[environment][pnum][kind+refreshSuffix], nil
}

// Expired reports whether no usable access token is stored for the key,
// either because none exists or because its exp claim has passed.
func (s *Store) Expired(environment, pnum, kind string) bool {
	tok, err := s.Token(environment, pnum, kind)
	if err != nil || tok == "" {
		return true
	}

	return token.Expired(tok)
}

// ExpiresSoon reports whether the stored access token expires within the
// given number of minutes. A missing token is not "soon" — it is expired.
func (s *Store) ExpiresSoon(environment, pnum, kind string, minutes int) bool {
	tok, err := s.Token(environment, pnum, kind)
	if err != nil || tok == "" {
		return false
	}

	return token.ExpiresWithin(tok, time.Duration(minutes)*time.Minute)
}

// Update replaces the token pair for (environment, pnum, kind). An empty
// refresh token removes any stored refresh entry, so an exhausted refresh
// chain cannot be replayed.
func (s *Store) Update(environment, pnum, kind, access, refresh string) error {
	data, err := s.load()
	if err != nil {
		return err
	}

	if data[environment] == nil {
		data[environment] = map[string]map[string]string{}
	}

	if data[environment][pnum] == nil {
		data[environment][pnum] = map[string]string{}
	}

	data[environment][pnum][kind] = access

	if refresh != "" {
		data[environment][pnum][kind+refreshSuffix] = refresh
	} else {
		delete(data[environment][pnum], kind+refreshSuffix)
	}

	return s.write(data)
}

// Clear resets the store to an empty mapping for all environments.
func (s *Store) Clear() error {
	return s.write(Data{})
}

// All returns the full store contents for display.
func (s *Store) All() (Data, error) {
	return s.load()
}

// write persists the store atomically with owner-only permissions.
func (s *Store) write(data Data) error {
	return writeYAML(s.path, data)
}

// writeYAML writes a YAML document atomically: temp file in the target
// directory, chmod, sync, rename. Same directory guarantees the rename
// stays on one filesystem.
func writeYAML(path string, v any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encoding %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("session: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("session: setting permissions: %w", err)
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("session: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("session: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("session: renaming: %w", err)
	}

	success = true

	return nil
}
