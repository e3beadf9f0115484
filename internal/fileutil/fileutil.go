// Package fileutil centralizes the profile-directory layout shared by every
// component: config, PID file, daemon log, event-store database, and IPC
// socket all live under one directory resolved once at startup.
package fileutil

import (
	"os"
	"path/filepath"
)

const profileSubdir = ".devtrack"

// ProfileDir returns the per-user profile directory, creating it if absent.
// Callers resolve this once (in internal/daemon) and pass it explicitly to
// every component rather than recomputing it.
func ProfileDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, profileSubdir)
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// EnsureDir creates a directory and all parents with 0755 permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ConfigPath returns config.yaml within the profile directory.
func ConfigPath(profileDir string) string {
	return filepath.Join(profileDir, "config.yaml")
}

// PIDPath returns daemon.pid within the profile directory.
func PIDPath(profileDir string) string {
	return filepath.Join(profileDir, "daemon.pid")
}

// LogPath returns daemon.log within the profile directory.
func LogPath(profileDir string) string {
	return filepath.Join(profileDir, "daemon.log")
}

// DBPath returns devtrack.db within the profile directory.
func DBPath(profileDir string) string {
	return filepath.Join(profileDir, "devtrack.db")
}

// SocketPath returns devtrack.sock within the profile directory.
func SocketPath(profileDir string) string {
	return filepath.Join(profileDir, "devtrack.sock")
}

// CommitLogPath returns commit.log within the profile directory — the
// advisory file the installed post-commit hook appends to.
func CommitLogPath(profileDir string) string {
	return filepath.Join(profileDir, "commit.log")
}

// WriteFileAtomic serializes data to a temporary sibling of path, then
// renames it into place, so readers never observe a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
