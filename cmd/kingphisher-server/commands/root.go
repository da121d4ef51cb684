//go:build !windows

// Package commands implements the kingphisher-server command line.
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kingphisher/kingphisher/cmd/kingphisher-server/commands/config"
	"github.com/kingphisher/kingphisher/internal/cli/output"
	"github.com/kingphisher/kingphisher/internal/logger"
	"github.com/kingphisher/kingphisher/internal/sysexits"
	"github.com/kingphisher/kingphisher/pkg/lifecycle"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	logLevel     = logger.NewLevelFlag(logger.LevelCritical)
	foreground   bool
	verifyConfig bool
)

// usageError marks command line mistakes so they exit with EX_USAGE.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// rootCmd starts the server when given a configuration file.
var rootCmd = &cobra.Command{
	Use:   "kingphisher-server [flags] config_file",
	Short: "King Phisher server",
	Long: `Start the King Phisher server with the given configuration file.

The server must be started as root. It binds its listener, then drops to the
account named by server.setuid_username. Unless --foreground is given or
server.fork is false it detaches into the background.

Examples:
  # Check the configuration and exit
  kingphisher-server --verify-config /etc/king-phisher/server_config.yml

  # Run attached to the terminal with debug output
  sudo kingphisher-server -f -L DEBUG /etc/king-phisher/server_config.yml`,
	Args:          configFileArg,
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)

	return exitStatus(output.StderrConsole(), rootCmd.Execute())
}

// exitStatus prints err on console and maps it to the process exit status.
func exitStatus(console *output.Console, err error) int {
	if err == nil {
		return sysexits.OK
	}

	// Startup errors have already been printed by the sequencer.
	var lerr *lifecycle.Error
	if errors.As(err, &lerr) {
		return lifecycle.ExitStatus(err)
	}

	console.Error("%v", err)
	var uerr usageError
	if errors.As(err, &uerr) {
		_, _ = fmt.Fprintln(console.Writer(), "usage:", rootCmd.UseLine())
		return sysexits.Usage
	}
	return sysexits.Software
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	flags := rootCmd.Flags()
	flags.VarP(logLevel, "log", "L", "console log level (DEBUG|INFO|WARNING|ERROR|CRITICAL)")
	flags.BoolVarP(&foreground, "foreground", "f", false, "run in the foreground (do not fork)")
	flags.BoolVar(&verifyConfig, "verify-config", false, "verify the configuration and exit")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// configFileArg requires exactly one readable configuration file.
func configFileArg(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usageError{fmt.Errorf("expected exactly one config_file argument, got %d", len(args))}
	}
	if err := readable(args[0]); err != nil {
		return usageError{err}
	}
	return nil
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("can't open '%s': %w", path, err)
	}
	return f.Close()
}

func runServer(cmd *cobra.Command, args []string) error {
	seq := lifecycle.New(lifecycle.Options{
		ConfigFile:  args[0],
		LogLevel:    logLevel.Level(),
		LogLevelSet: cmd.Flags().Changed("log"),
		Foreground:  foreground,
		VerifyOnly:  verifyConfig,
	})
	return seq.Run()
}
