package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/kingphisher/kingphisher/pkg/config"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the King Phisher server configuration file.

The schema can be used for IDE autocompletion and editor validation. It
documents the file layout; startup verification uses server_config.yml from
the server data path.

Examples:
  # Print schema to stdout
  kingphisher-server config schema

  # Save schema to file
  kingphisher-server config schema --output server_config.schema.json`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")
}

func runSchema(cmd *cobra.Command, args []string) error {
	if schemaOutput != "" {
		f, err := os.Create(schemaOutput)
		if err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		if err := writeSchema(f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
		return nil
	}
	return writeSchema(cmd.OutOrStdout())
}

func writeSchema(w io.Writer) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.File{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "King Phisher Server Configuration"
	schema.Description = "Configuration schema for the King Phisher server"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
