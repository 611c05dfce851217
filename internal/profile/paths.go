// Package profile locates per-profile state. A profile is one office user's
// isolated daemon instance: its own SQLite database, lock file and log under
// BaseDir()/profiles/<name>, so several users or test identities can run
// side by side on one machine. config.toml and .env in BaseDir are shared.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.officechat, or $OFFICECHAT_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("OFFICECHAT_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".officechat")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the profile's SQLite database.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "officechat.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "officechatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional .env file read before environment overrides.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
