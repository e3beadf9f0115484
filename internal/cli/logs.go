package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/devtrackd/internal/daemon"
)

var logsTail int

func init() {
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show")
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the daemon's log output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profileDir, err := resolveProfileDir()
		if err != nil {
			return err
		}
		out, err := daemon.GetLogs(profileDir, logsTail)
		if err != nil {
			fmt.Printf("✗ could not read logs: %s\n", err)
			return err
		}
		if out == "" {
			fmt.Println("· no log output yet")
			return nil
		}
		fmt.Print(out)
		return nil
	},
}
