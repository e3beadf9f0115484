package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/devtrackd/internal/fileutil"
	"github.com/re-cinq/devtrackd/internal/store"
)

func init() {
	rootCmd.AddCommand(dbStatsCmd)
}

var dbStatsCmd = &cobra.Command{
	Use:   "db-stats",
	Short: "Show event store row counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profileDir, err := resolveProfileDir()
		if err != nil {
			return err
		}

		st, err := store.Open(fileutil.DBPath(profileDir))
		if err != nil {
			fmt.Printf("✗ could not open event store: %s\n", err)
			return err
		}
		defer st.Close()

		stats, err := st.GetStats(context.Background())
		if err != nil {
			fmt.Printf("✗ could not read event store: %s\n", err)
			return err
		}

		fmt.Printf("triggers            %d\n", stats.Triggers)
		fmt.Printf("responses           %d\n", stats.Responses)
		fmt.Printf("task updates        %d\n", stats.TaskUpdates)
		fmt.Printf("  unsynced          %d\n", stats.UnsyncedTaskUpdates)
		fmt.Printf("logs                %d\n", stats.Logs)
		fmt.Printf("database            %s\n", stats.Path)
		return nil
	},
}
