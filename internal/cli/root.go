// Package cli is devtrackd's control surface: a cobra command tree that
// dispatches to the daemon supervisor (in-process for start, over IPC for
// the running daemon's live operations), mirroring the teacher's
// root.go/status.go structure and icon-prefixed rendering style.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/devtrackd/internal/fileutil"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "devtrackd",
	Short: "Developer-activity tracking daemon",
	Long: `devtrackd watches Git commits and fires time-based prompts, durably
logs every trigger and its downstream updates, and coordinates with a
separate intelligence process that parses prompts and pushes updates to
external task trackers.`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devtrackd %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// resolveProfileDir resolves the profile directory every command operates
// against (spec §9: resolve once, pass explicitly — here "once per command
// invocation", the CLI's own process boundary).
func resolveProfileDir() (string, error) {
	return fileutil.ProfileDir()
}
