package session

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// appDir is the directory name under the per-user config and data bases.
const appDir = "tacl"

// ConfigDir returns the per-user configuration directory, creating it if
// missing. XDG_CONFIG_HOME overrides the platform default on Linux.
func ConfigDir() (string, error) {
	base, err := configBase()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(base, appDir)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return "", fmt.Errorf("session: creating config directory %s: %w", dir, err)
	}

	return dir, nil
}

func configBase() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("session: resolving home directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support"), nil
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return xdg, nil
		}

		return filepath.Join(home, ".config"), nil
	}
}

// DataDir returns the per-(environment, project) data directory used for
// the request caches, creating it if missing. XDG_DATA_HOME overrides
// the default base.
func DataDir(environment, pnum string) (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("session: resolving home directory: %w", err)
		}

		base = filepath.Join(home, ".local", "share")
	}

	dir := filepath.Join(base, appDir, environment, pnum)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return "", fmt.Errorf("session: creating data directory %s: %w", dir, err)
	}

	return dir, nil
}
