package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.habitate.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".habitate")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the local database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "habitate.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "habitated.log")
}

// CredentialsPath returns the stored refresh-token file for a profile.
func CredentialsPath(name string) string {
	return filepath.Join(Dir(name), "credentials")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree (including logs).
func EnsureDir(name string) error {
	if err := os.MkdirAll(Dir(name), 0700); err != nil {
		return err
	}
	return os.MkdirAll(LogDir(name), 0700)
}
