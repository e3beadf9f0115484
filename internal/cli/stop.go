package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/devtrackd/internal/daemon"
	"github.com/re-cinq/devtrackd/internal/errs"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopDaemon()
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := stopDaemon(); err != nil && !errors.Is(err, errs.ErrNotRunning) {
			return err
		}
		return startCmd.RunE(cmd, args)
	},
}

func stopDaemon() error {
	profileDir, err := resolveProfileDir()
	if err != nil {
		return err
	}

	if err := daemon.Kill(profileDir); err != nil {
		if errors.Is(err, errs.ErrNotRunning) {
			fmt.Printf("· devtrackd is not running\n")
			return err
		}
		fmt.Printf("✗ failed to stop devtrackd: %s\n", err)
		return err
	}
	fmt.Printf("✓ devtrackd stopped\n")
	return nil
}
