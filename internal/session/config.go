package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tacl-io/tacl/internal/token"
)

// ErrNoAPIKey is returned when no API key is registered for the
// requested (environment, pnum) pair.
var ErrNoAPIKey = errors.New("session: no API key registered")

// ConfigData maps environment → project → API key.
type ConfigData map[string]map[string]string

// Config is the YAML-backed API-key store, kept separate from the
// session store so clearing sessions never touches registrations.
type Config struct {
	path string
}

// NewConfig opens the config store in the per-user config directory.
func NewConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	return &Config{path: filepath.Join(dir, "config")}, nil
}

// NewConfigAt opens a config store at an explicit path. Used by tests.
func NewConfigAt(path string) *Config {
	return &Config{path: path}
}

func (c *Config) load() (ConfigData, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ConfigData{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("session: reading %s: %w", c.path, err)
	}

	var data ConfigData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", c.path, err)
	}

	if data == nil {
		data = ConfigData{}
	}

	return data, nil
}

// APIKey returns the registered key for (environment, pnum).
// Returns ErrNoAPIKey when none is registered.
func (c *Config) APIKey(environment, pnum string) (string, error) {
	data, err := c.load()
	if err != nil {
		return "", err
	}

	key := data[environment][pnum]
	if key == "" {
		return "", fmt.Errorf("%w for %s in %s", ErrNoAPIKey, pnum, environment)
	}

	return key, nil
}

// KeyExpired reports whether the registered key's exp claim has passed.
// A missing or unparseable key counts as expired.
func (c *Config) KeyExpired(environment, pnum string) bool {
	key, err := c.APIKey(environment, pnum)
	if err != nil {
		return true
	}

	return token.Expired(key)
}

// Update stores an API key for (environment, pnum).
func (c *Config) Update(environment, pnum, key string) error {
	data, err := c.load()
	if err != nil {
		return err
	}

	if data[environment] == nil {
		data[environment] = map[string]string{}
	}

	data[environment][pnum] = key

	return writeYAML(c.path, data)
}

// Delete removes the registration for (environment, pnum).
func (c *Config) Delete(environment, pnum string) error {
	data, err := c.load()
	if err != nil {
		return err
	}

	delete(data[environment], pnum)

	return writeYAML(c.path, data)
}

// All returns the full registration table for display.
func (c *Config) All() (ConfigData, error) {
	return c.load()
}
