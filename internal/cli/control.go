package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/devtrackd/internal/daemon"
	"github.com/re-cinq/devtrackd/internal/fileutil"
	"github.com/re-cinq/devtrackd/internal/ipc"
)

func init() {
	rootCmd.AddCommand(pauseCmd, resumeCmd, forceTriggerCmd, skipNextCmd, sendSummaryCmd)
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Suspend timer-based prompts",
	RunE:  runControlCommand(ipc.CommandPause, "paused"),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume timer-based prompts",
	RunE:  runControlCommand(ipc.CommandResume, "resumed"),
}

var forceTriggerCmd = &cobra.Command{
	Use:   "force-trigger",
	Short: "Fire a timer prompt immediately, bypassing pause and work hours",
	RunE:  runControlCommand(ipc.CommandForceTrigger, "forced an immediate trigger"),
}

var skipNextCmd = &cobra.Command{
	Use:   "skip-next",
	Short: "Skip the next scheduled timer prompt",
	RunE:  runControlCommand(ipc.CommandSkipNext, "skipped the next trigger"),
}

var sendSummaryCmd = &cobra.Command{
	Use:   "send-summary",
	Short: "Request an on-demand summary prompt",
	RunE:  runControlCommand(ipc.CommandSendSummary, "requested a summary"),
}

// runControlCommand builds a RunE that dials the running daemon, sends one
// control_command, and waits for its ack — force-trigger/skip-next/
// send-summary/pause/resume all require a running daemon and fail with a
// user-facing message if one isn't reachable (spec §4.8).
func runControlCommand(cmd ipc.ControlCommand, successMsg string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		profileDir, err := resolveProfileDir()
		if err != nil {
			return err
		}
		if _, running := daemon.IsRunning(profileDir); !running {
			fmt.Printf("✗ devtrackd is not running\n")
			return fmt.Errorf("daemon not running")
		}

		client := ipc.NewClient(fileutil.SocketPath(profileDir))
		if err := client.Connect(); err != nil {
			fmt.Printf("✗ could not reach the running daemon: %s\n", err)
			return err
		}
		defer client.Disconnect()

		env, err := ipc.NewEnvelope(ipc.TypeControlCommand, fmt.Sprintf("cli-%d", time.Now().UnixNano()), ipc.ControlCommandData{Command: cmd})
		if err != nil {
			return err
		}
		if err := client.SendMessage(env); err != nil {
			fmt.Printf("✗ failed to send command: %s\n", err)
			return err
		}

		reply, err := waitForReply(client, 3*time.Second)
		if err != nil {
			fmt.Printf("✗ no response from daemon: %s\n", err)
			return err
		}
		if reply.Type == ipc.TypeError {
			fmt.Printf("✗ %s\n", reply.Error)
			return fmt.Errorf("%s", reply.Error)
		}

		fmt.Printf("✓ %s\n", successMsg)
		return nil
	}
}

// waitForReply reads messages until an ack or error arrives, or timeout
// elapses — other message types (e.g. a commit_trigger racing the reply)
// are skipped.
func waitForReply(client *ipc.Client, timeout time.Duration) (ipc.Envelope, error) {
	type result struct {
		env ipc.Envelope
		err error
	}
	done := make(chan result, 1)
	go func() {
		for {
			env, err := client.ReceiveMessage()
			if err != nil {
				done <- result{err: err}
				return
			}
			if env.Type == ipc.TypeAck || env.Type == ipc.TypeError {
				done <- result{env: env}
				return
			}
		}
	}()

	select {
	case r := <-done:
		return r.env, r.err
	case <-time.After(timeout):
		return ipc.Envelope{}, fmt.Errorf("timed out waiting for reply")
	}
}
