// Package xdg resolves XDG base directories for tripauthd.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "tripauth"

// ConfigDir returns $XDG_CONFIG_HOME/tripauth, falling back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DataDir returns $XDG_DATA_HOME/tripauth, falling back to ~/.local/share.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(base, appName)
}

// KeyDir returns the directory holding the master and signing keys.
func KeyDir() string {
	return filepath.Join(DataDir(), "keys")
}

// EnsureDir creates path with 0700 permissions if it does not exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
