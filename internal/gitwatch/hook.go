package gitwatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/re-cinq/devtrackd/internal/fileutil"
)

const (
	hookBeginMarker = "# BEGIN devtrack post-commit"
	hookEndMarker   = "# END devtrack post-commit"
)

// hookBlock returns the shell snippet appended to hooks/post-commit. It is
// advisory only (spec §4.3): the watcher does not require it to function.
func hookBlock(profileDir string) string {
	commitLog := fileutil.CommitLogPath(profileDir)
	return fmt.Sprintf("%s\necho \"$(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ) $(git rev-parse HEAD)\" >> %q\n%s\n",
		hookBeginMarker, commitLog, hookEndMarker)
}

// InstallPostCommitHook writes or injects the advisory hook script into
// repoPath's hooks/post-commit, following the teacher's idempotent
// sentinel-marker injection in internal/cli/init.go (fresh file if none
// exists, inject-with-sentinel if one does, no-op if already present).
func InstallPostCommitHook(repoPath, profileDir string) error {
	hookDir := filepath.Join(repoPath, ".git", "hooks")
	if err := fileutil.EnsureDir(hookDir); err != nil {
		return fmt.Errorf("creating hooks directory: %w", err)
	}
	hookPath := filepath.Join(hookDir, "post-commit")
	block := hookBlock(profileDir)

	existing, err := os.ReadFile(hookPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading existing post-commit hook: %w", err)
		}
		content := "#!/bin/sh\n" + block
		return os.WriteFile(hookPath, []byte(content), 0o755)
	}

	if strings.Contains(string(existing), hookBeginMarker) {
		return nil // already installed
	}

	updated := string(existing)
	if !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	updated += "\n" + block
	return os.WriteFile(hookPath, []byte(updated), 0o755)
}
