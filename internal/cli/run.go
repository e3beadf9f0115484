package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/devtrackd/internal/daemon"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

// runCmd is the hidden foreground entry point `start` re-execs into,
// detached, mirroring the teacher's triggerCmd self-exec pattern
// (internal/cli/trigger.go: os.Executable + exec.Command + Setsid).
var runCmd = &cobra.Command{
	Use:    "__run",
	Short:  "Run the daemon in the foreground (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			fmt.Printf("✗ %s\n", err)
			return err
		}
		return d.Run(context.Background())
	},
}
