// Package config implements configuration subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration tools",
	Long: `Tools for the King Phisher server configuration file.

Use 'kingphisher-server --verify-config FILE' to check a configuration
against the server's verification schema.

Subcommands:
  schema    Generate JSON schema for IDE/validation`,
}

func init() {
	Cmd.AddCommand(schemaCmd)
}
