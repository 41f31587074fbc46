package cmd

import (
	"fmt"
	"os"

	"github.com/grovetools/taskagent/cli"
	"github.com/grovetools/taskagent/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate taskagent.yml",
		Long: `Inspect and validate taskagent configuration.

Configuration is read from --config, else the nearest taskagent.yml (or
.toml) above the working directory, else the global config in the
taskagent config directory.`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), cfg)
			}

			if path := configSource(cmd); path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# Source: %s\n", path)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "# Source: defaults")
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file against the schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cli.GetOptions(cmd).ConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				if path, err = config.FindConfigFile(cwd); err != nil {
					return err
				}
			}

			if _, err := config.Load(path); err != nil {
				return err
			}
			console(cmd).Success(path + " is valid")
			return nil
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for taskagent.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// configSource returns the file a command's configuration comes from, or ""
// when only defaults apply.
func configSource(cmd *cobra.Command) string {
	if path := cli.GetOptions(cmd).ConfigFile; path != "" {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	if path, err := config.FindConfigFile(cwd); err == nil {
		return path
	}
	return ""
}
