package config

import (
	"os"
	"path/filepath"
)

// GetUserConfigDir returns the per-user collabd config directory, where
// machine-wide defaults (not tied to any single root) can live.
func GetUserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".collabd"), nil
}

// FindBootstrapFile walks up from dir looking for a collabd.yaml, stopping
// at the first directory that has one or that has a .git directory (taken
// as the project root when no collabd.yaml exists yet).
func FindBootstrapFile(dir string) (root string, found bool, err error) {
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", false, err
	}
	for {
		candidate := filepath.Join(dir, "collabd.yaml")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return dir, true, nil
		}
		if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
			return dir, false, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir, false, nil
		}
		dir = parent
	}
}

// EnsureConfigDirs creates userConfigDir and root if they don't exist.
func EnsureConfigDirs(userConfigDir, root string) error {
	if err := os.MkdirAll(userConfigDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(root, 0o755)
}
