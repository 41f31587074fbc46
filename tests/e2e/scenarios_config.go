package main

import (
	"fmt"
	"path/filepath"

	"github.com/grovetools/tend/pkg/assert"
	"github.com/grovetools/tend/pkg/fs"
	"github.com/grovetools/tend/pkg/harness"
)

// ConfigValidateScenario validates a project taskagent.yml found from the
// working directory.
func ConfigValidateScenario() *harness.Scenario {
	return &harness.Scenario{
		Name:        "taskagent-config-validate",
		Description: "Verifies that 'taskagent config validate' accepts a well-formed project config.",
		Tags:        []string{"taskagent", "config"},
		Steps: []harness.Step{
			{
				Name: "Validate a project config",
				Func: func(ctx *harness.Context) error {
					projectDir := ctx.NewDir("valid-project")
					configYAML := `agent:
  command: claude
  working_directory: ` + projectDir + `
supervisor:
  poll_interval: 2s
persistence:
  driver: file
`
					if err := fs.WriteString(filepath.Join(projectDir, "taskagent.yml"), configYAML); err != nil {
						return err
					}

					bin, err := findTaskagentBinary()
					if err != nil {
						return err
					}
					cmd := ctx.Command(bin, "config", "validate").Dir(projectDir)
					result := cmd.Run()
					ctx.ShowCommandOutput(cmd.String(), result.Stdout, result.Stderr)

					if err := assert.Equal(0, result.ExitCode, "valid config should pass"); err != nil {
						return err
					}
					return assert.Contains(result.Stdout, "is valid", "validate should confirm the file")
				},
			},
		},
	}
}

// ConfigInvalidScenario checks that a bad duration is reported with its file.
func ConfigInvalidScenario() *harness.Scenario {
	return &harness.Scenario{
		Name:        "taskagent-config-invalid",
		Description: "Verifies that 'taskagent config validate' rejects an unparseable poll interval.",
		Tags:        []string{"taskagent", "config"},
		Steps: []harness.Step{
			{
				Name: "Validate a broken config",
				Func: func(ctx *harness.Context) error {
					projectDir := ctx.NewDir("invalid-project")
					path := filepath.Join(projectDir, "taskagent.yml")
					if err := fs.WriteString(path, "supervisor:\n  poll_interval: soon\n"); err != nil {
						return err
					}

					bin, err := findTaskagentBinary()
					if err != nil {
						return err
					}
					cmd := ctx.Command(bin, "config", "validate", path).Dir(projectDir)
					result := cmd.Run()
					ctx.ShowCommandOutput(cmd.String(), result.Stdout, result.Stderr)

					if result.ExitCode == 0 {
						return fmt.Errorf("invalid config should fail, got exit 0")
					}
					return assert.Contains(result.Stderr, "poll_interval", "error should name the bad field")
				},
			},
		},
	}
}

// ConfigSchemaScenario prints the configuration JSON schema.
func ConfigSchemaScenario() *harness.Scenario {
	return &harness.Scenario{
		Name:        "taskagent-config-schema",
		Description: "Verifies that 'taskagent config schema' emits the JSON schema.",
		Tags:        []string{"taskagent", "config", "schema"},
		Steps: []harness.Step{
			harness.NewStep("Run 'taskagent config schema'", func(ctx *harness.Context) error {
				bin, err := findTaskagentBinary()
				if err != nil {
					return err
				}
				cmd := ctx.Command(bin, "config", "schema")
				result := cmd.Run()
				ctx.ShowCommandOutput(cmd.String(), result.Stdout, result.Stderr)

				if err := assert.Equal(0, result.ExitCode, "schema should print"); err != nil {
					return err
				}
				if err := assert.Contains(result.Stdout, "taskagent configuration", "schema should carry its title"); err != nil {
					return err
				}
				return assert.Contains(result.Stdout, "poll_interval", "schema should describe supervisor settings")
			}),
		},
	}
}
