package cli

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/devtrackd/internal/daemon"
)

func init() {
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profileDir, err := resolveProfileDir()
		if err != nil {
			return err
		}
		if pid, running := daemon.IsRunning(profileDir); running {
			// A single-instance violation is not a failure here: the daemon
			// is already in the requested state, so report it and exit 0.
			fmt.Printf("✓ devtrackd is already running (pid %d)\n", pid)
			return nil
		}

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving self: %w", err)
		}

		detached := exec.Command(self, "__run")
		detached.Stdin = nil
		detached.Stdout = nil
		detached.Stderr = nil
		detached.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := detached.Start(); err != nil {
			fmt.Printf("✗ failed to start daemon: %s\n", err)
			return err
		}
		if err := detached.Process.Release(); err != nil {
			return fmt.Errorf("detaching daemon: %w", err)
		}

		pid, ok := waitForPID(profileDir, 2*time.Second)
		if !ok {
			fmt.Printf("✗ daemon did not report itself running within 2s; check %s\n", "daemon.log")
			return fmt.Errorf("daemon did not start")
		}
		fmt.Printf("✓ devtrackd started (pid %d)\n", pid)
		return nil
	},
}

// waitForPID polls the PID file until a live process claims it or timeout
// elapses.
func waitForPID(profileDir string, timeout time.Duration) (int, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pid, running := daemon.IsRunning(profileDir); running {
			return pid, true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return 0, false
}
