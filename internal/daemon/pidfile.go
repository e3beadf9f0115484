package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/re-cinq/devtrackd/internal/errs"
	"github.com/re-cinq/devtrackd/internal/fileutil"
)

// isProcessAlive checks whether a process with the given PID is still
// running. Verbatim idiom from the teacher's engine.IsProcessAlive
// (internal/engine/state.go), generalized from per-station liveness to the
// one daemon-wide PID file.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// readPID reads and parses the PID file, returning (0, nil) if it is absent.
func readPID(profileDir string) (int, error) {
	data, err := os.ReadFile(fileutil.PIDPath(profileDir))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file: %w", err)
	}
	return pid, nil
}

// acquirePIDFile fails with errs.ErrAlreadyRunning if a live daemon already
// owns profileDir's PID file; otherwise it atomically claims the file for
// the current process, replacing any stale PID left by an interrupted run.
func acquirePIDFile(profileDir string) error {
	existing, err := readPID(profileDir)
	if err != nil {
		return err
	}
	if existing != 0 && isProcessAlive(existing) {
		return fmt.Errorf("%w: pid %d", errs.ErrAlreadyRunning, existing)
	}
	return fileutil.WriteFileAtomic(fileutil.PIDPath(profileDir), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// releasePIDFile removes the PID file, ignoring a missing file.
func releasePIDFile(profileDir string) error {
	err := os.Remove(fileutil.PIDPath(profileDir))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
