package main

import (
	"fmt"
	"path/filepath"

	"github.com/grovetools/tend/pkg/assert"
	"github.com/grovetools/tend/pkg/harness"
)

// VersionScenario tests the 'version' command.
func VersionScenario() *harness.Scenario {
	return &harness.Scenario{
		Name:        "taskagent-basic-version",
		Description: "Verifies that 'taskagent version' prints build information.",
		Tags:        []string{"taskagent", "basic"},
		Steps: []harness.Step{
			harness.NewStep("Run 'taskagent version'", func(ctx *harness.Context) error {
				bin, err := findTaskagentBinary()
				if err != nil {
					return err
				}

				cmd := ctx.Command(bin, "version")
				result := cmd.Run()
				ctx.ShowCommandOutput(cmd.String(), result.Stdout, result.Stderr)

				if err := assert.Equal(0, result.ExitCode, "taskagent version should exit successfully"); err != nil {
					return err
				}
				if err := assert.Contains(result.Stdout, "taskagent ", "Output should name the binary"); err != nil {
					return err
				}
				if err := assert.Contains(result.Stdout, "Version:", "Output should contain Version"); err != nil {
					return err
				}
				return assert.Contains(result.Stdout, "Commit:", "Output should contain Commit")
			}),
		},
	}
}

// PathsScenario checks that every path moves under TASKAGENT_HOME.
func PathsScenario() *harness.Scenario {
	return &harness.Scenario{
		Name:        "taskagent-basic-paths",
		Description: "Verifies that 'taskagent paths' reports the socket, PID file and database.",
		Tags:        []string{"taskagent", "basic"},
		Steps: []harness.Step{
			harness.NewStep("Run 'taskagent paths'", func(ctx *harness.Context) error {
				bin, err := findTaskagentBinary()
				if err != nil {
					return err
				}

				cmd := ctx.Command(bin, "paths")
				result := cmd.Run()
				ctx.ShowCommandOutput(cmd.String(), result.Stdout, result.Stderr)
				if result.Error != nil {
					return fmt.Errorf("`taskagent paths` failed: %w", result.Error)
				}

				for _, want := range []string{`"socket"`, "taskagentd.sock", "taskagentd.pid", "sessions.db"} {
					if err := assert.Contains(result.Stdout, want, "paths output should contain "+want); err != nil {
						return err
					}
				}
				return nil
			}),
		},
	}
}

// DoctorScenario runs the environment checks against a stub agent.
func DoctorScenario() *harness.Scenario {
	return &harness.Scenario{
		Name:        "taskagent-basic-doctor",
		Description: "Verifies that 'taskagent doctor' resolves the agent and flags the missing daemon as a warning.",
		Tags:        []string{"taskagent", "basic", "doctor"},
		Steps: []harness.Step{
			harness.NewStep("Run 'taskagent doctor --json'", func(ctx *harness.Context) error {
				if _, ok := requireTmux(); !ok {
					return nil
				}

				toolsDir := ctx.NewDir("doctor-tools")
				agent, err := writeStubAgent(toolsDir, "exit 0\n")
				if err != nil {
					return err
				}
				sb, err := newSandbox(ctx, "doctor", agent)
				if err != nil {
					return err
				}
				defer sb.teardown()

				stdout, code, _ := sb.run(ctx, "doctor", "--json")
				if err := assert.Equal(0, code, "doctor should pass when only the daemon is down"); err != nil {
					return err
				}
				if err := assert.Contains(stdout, agent, "agent check should report the resolved stub"); err != nil {
					return err
				}
				return assert.Contains(stdout, `"detail": "not running"`, "daemon check should report the daemon as down")
			}),
			harness.NewStep("Missing agent fails the doctor", func(ctx *harness.Context) error {
				if _, ok := requireTmux(); !ok {
					return nil
				}

				sb, err := newSandbox(ctx, "doctor-missing", filepath.Join(ctx.RootDir, "no-such-agent"))
				if err != nil {
					return err
				}
				defer sb.teardown()

				stdout, code, _ := sb.run(ctx, "doctor")
				if err := assert.Equal(1, code, "doctor should fail without an agent CLI"); err != nil {
					return err
				}
				return assert.Contains(stdout, "no-such-agent not found", "doctor should name the missing agent")
			}),
		},
	}
}
