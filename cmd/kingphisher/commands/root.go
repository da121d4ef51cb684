// Package commands implements the kingphisher client launcher command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kingphisher/kingphisher/internal/cli/output"
	"github.com/kingphisher/kingphisher/internal/logger"
	"github.com/kingphisher/kingphisher/internal/sysexits"
	"github.com/kingphisher/kingphisher/pkg/client"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile    string
	loggerName string
	logLevel   = logger.NewLevelFlag(logger.LevelCritical)

	// status is the launcher exit status set by runClient.
	status int
)

var errUsage = errors.New("usage error")

var rootCmd = &cobra.Command{
	Use:   "kingphisher",
	Short: "King Phisher client",
	Long: `Start the King Phisher client.

The launcher finds the client UI definition on the client data path, loads
the client configuration and runs the configured frontend until it exits.`,
	Args:          cobra.NoArgs,
	RunE:          runClient,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)

	return exitStatus(output.StderrConsole(), rootCmd.Execute())
}

// exitStatus prints a command line error on console. Without one the
// launcher's own status is returned.
func exitStatus(console *output.Console, err error) int {
	if err == nil {
		return status
	}
	console.Error("%v", err)
	_, _ = fmt.Fprintln(console.Writer(), "usage:", rootCmd.UseLine())
	return sysexits.Usage
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "client configuration file (default: "+client.DefaultConfigPath()+")")
	flags.VarP(logLevel, "log", "L", "console log level (DEBUG|INFO|WARNING|ERROR|CRITICAL)")
	flags.StringVar(&loggerName, "logger", logger.DefaultName, "root logger name")
	flags.BoolP("version", "v", false, "print the version and exit")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher := client.NewLauncher(client.Options{
		ConfigFile: cfgFile,
		LogLevel:   logLevel.Level(),
		LoggerName: loggerName,
	}, nil, nil)
	status = launcher.Run(ctx)
	return nil
}
