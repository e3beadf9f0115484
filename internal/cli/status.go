package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/devtrackd/internal/daemon"
	"github.com/re-cinq/devtrackd/internal/fileutil"
	"github.com/re-cinq/devtrackd/internal/store"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's status",
	Args:  cobra.NoArgs,
	// status never returns non-zero for "daemon stopped" (spec §6): only a
	// genuine I/O failure reading the profile directory returns an error.
	RunE: func(cmd *cobra.Command, args []string) error {
		profileDir, err := resolveProfileDir()
		if err != nil {
			return err
		}
		return renderStatus(os.Stdout, profileDir)
	},
}

func renderStatus(w io.Writer, profileDir string) error {
	pid, running := daemon.IsRunning(profileDir)

	symbol, color := stateDisplay(running, "running")
	if running {
		fmt.Fprintf(w, "%s%s%s devtrackd running (pid %d)\n", color, symbol, ansiReset, pid)
	} else {
		fmt.Fprintf(w, "%s%s%s devtrackd stopped\n", color, symbol, ansiReset)
	}

	if uptime, ok := pidFileUptime(profileDir); ok {
		fmt.Fprintf(w, "  uptime             %s\n", uptime.Round(time.Second))
	}

	fmt.Fprintf(w, "  config             %s\n", fileutil.ConfigPath(profileDir))
	fmt.Fprintf(w, "  log                %s\n", fileutil.LogPath(profileDir))
	fmt.Fprintf(w, "  pid file           %s\n", fileutil.PIDPath(profileDir))

	// No event store file yet means the daemon has never run against this
	// profile directory; spec §4.8 requires status to still succeed in that
	// case. Checked before store.Open, which would create the file.
	if _, err := os.Stat(fileutil.DBPath(profileDir)); os.IsNotExist(err) {
		fmt.Fprintf(w, "\n  (no event store yet — run has never started)\n")
		return nil
	}
	st, err := store.Open(fileutil.DBPath(profileDir))
	if err != nil {
		fmt.Fprintf(w, "\n  (event store unreadable: %s)\n", err)
		return nil
	}
	defer st.Close()

	ctx := context.Background()
	stats, err := st.GetStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  triggers           %d\n", stats.Triggers)

	if recent, err := st.GetRecentTriggers(ctx, 1); err == nil && len(recent) > 0 {
		fmt.Fprintf(w, "  last trigger       %s\n", recent[0].Timestamp.Format(time.RFC3339))
	}

	snap, ok, err := daemon.ReadStatusSnapshot(st, ctx)
	if err != nil || !ok {
		return nil
	}

	pSymbol, pColor := pausedSymbol(snap.Scheduler.Paused)
	fmt.Fprintf(w, "  scheduler          %s%s%s interval=%dm\n", pColor, pSymbol, ansiReset, snap.Scheduler.IntervalMinutes)
	if !snap.Scheduler.NextTrigger.IsZero() {
		fmt.Fprintf(w, "  next trigger       %s\n", snap.Scheduler.NextTrigger.Format(time.RFC3339))
	}
	if snap.WorkHours.Open {
		fmt.Fprintf(w, "  work hours         open\n")
	} else {
		fmt.Fprintf(w, "  work hours         closed, opens %s\n", snap.WorkHours.NextOpenAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  repositories       %d enabled\n", snap.RepositoryCount)

	return nil
}

// pidFileUptime derives uptime from the PID file's modification time — the
// PID file is written exactly once per daemon lifetime (atomic rename in
// daemon.acquirePIDFile), unlike the continuously-appended log file, so it
// is the one on-disk timestamp that actually marks "when this process
// started".
func pidFileUptime(profileDir string) (time.Duration, bool) {
	info, err := os.Stat(fileutil.PIDPath(profileDir))
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}
