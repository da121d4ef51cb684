//go:build !windows

package commands

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kingphisher/kingphisher/pkg/daemon"
)

var (
	stopPidFile string
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop [config_file]",
	Short: "Stop a running server",
	Long: `Stop a running King Phisher server.

By default sends SIGHUP, which the server handles as an orderly shutdown.
Use --force to send SIGKILL instead. The PID file is taken from --pid-file or
from server.pid_file in the given configuration file.

Examples:
  # Stop the server using the PID file from its configuration
  kingphisher-server stop /etc/king-phisher/server_config.yml

  # Force stop
  kingphisher-server stop --pid-file /var/run/king-phisher.pid --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "path to the PID file (default: server.pid_file)")
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "send SIGKILL instead of SIGHUP")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath, err := resolvePidFile(stopPidFile, args)
	if err != nil {
		return err
	}

	pid, err := daemon.ReadPidFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("PID file not found: %s\n\nIs the server running?", pidPath)
		}
		return err
	}

	sig := syscall.SIGHUP
	if stopForce {
		sig = syscall.SIGKILL
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Sending %s to process %d...\n", signalName(sig), pid)

	if err := daemon.Signal(pid, sig); err != nil {
		if errors.Is(err, daemon.ErrProcessDone) {
			_, _ = fmt.Fprintf(out, "Process %d is not running, removing stale PID file\n", pid)
			_ = os.Remove(pidPath)
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	if stopForce {
		_ = os.Remove(pidPath)
	}
	_, _ = fmt.Fprintln(out, "Stop signal sent")
	return nil
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGKILL:
		return "SIGKILL"
	default:
		return sig.String()
	}
}
