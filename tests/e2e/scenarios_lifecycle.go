package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/grovetools/tend/pkg/assert"
	"github.com/grovetools/tend/pkg/harness"
)

const planningAgent = `echo "● Write(notes.md)"
echo "  ⎿ Wrote 3 lines to notes.md"
echo "Would you like to proceed?"
sleep 60
`

// AgentLifecycleScenario drives launch, completion and stop through a real
// daemon and tmux server.
func AgentLifecycleScenario() *harness.Scenario {
	var sb *sandbox

	return &harness.Scenario{
		Name:        "taskagent-agent-lifecycle",
		Description: "Launches a stub agent through the daemon, waits for it to complete, then stops it.",
		Tags:        []string{"taskagent", "daemon", "tmux"},
		Steps: []harness.Step{
			{
				Name: "Start the daemon",
				Func: func(ctx *harness.Context) error {
					if _, ok := requireTmux(); !ok {
						return nil
					}
					agent, err := writeStubAgent(ctx.NewDir("tools"), planningAgent)
					if err != nil {
						return err
					}
					if sb, err = newSandbox(ctx, "lifecycle", agent); err != nil {
						return err
					}
					return sb.startDaemon(ctx)
				},
			},
			{
				Name: "Launch an agent for a task",
				Func: func(ctx *harness.Context) error {
					if sb == nil {
						return nil
					}
					stdout, code, _ := sb.run(ctx, "launch", "E2E-1", "--prompt", `it's "quoted" $HOME`, "--json")
					if err := assert.Equal(0, code, "launch should succeed"); err != nil {
						return err
					}
					if err := assert.Contains(stdout, `"taskId": "E2E-1"`, "launch should echo the session"); err != nil {
						return err
					}
					sess, err := sb.session(ctx, "E2E-1")
					if err != nil {
						return err
					}
					ctx.Set("session_name", fmt.Sprint(sess["sessionName"]))
					return assert.Equal(`it's "quoted" $HOME`, sess["prompt"], "prompt should reach the daemon verbatim")
				},
			},
			{
				Name: "Wait for the plan",
				Func: func(ctx *harness.Context) error {
					if sb == nil {
						return nil
					}
					sess, err := sb.waitForStatus(ctx, "E2E-1", "completed", 20*time.Second)
					if err != nil {
						return err
					}
					files := fmt.Sprint(sess["editedFiles"])
					if err := assert.Contains(files, "notes.md", "edited files should be extracted"); err != nil {
						return err
					}
					if err := assert.Contains(fmt.Sprint(sess["plan"]), "Would you like to proceed?", "plan should hold the transcript"); err != nil {
						return err
					}

					stdout, _, _ := sb.run(ctx, "status")
					return assert.Contains(stdout, "E2E-1", "status table should list the task")
				},
			},
			{
				Name: "Stop the agent",
				Func: func(ctx *harness.Context) error {
					if sb == nil {
						return nil
					}
					name := ctx.GetString("session_name")
					if !sb.hasTmuxSession(name) {
						return fmt.Errorf("tmux session %s should be running before stop", name)
					}

					stdout, code, _ := sb.run(ctx, "stop", "E2E-1")
					if err := assert.Equal(0, code, "stop should succeed"); err != nil {
						return err
					}
					if err := assert.Contains(stdout, "Stopped agent for task E2E-1", "stop should confirm"); err != nil {
						return err
					}
					if sb.hasTmuxSession(name) {
						return fmt.Errorf("tmux session %s should be gone after stop", name)
					}

					stdout, _, _ = sb.run(ctx, "status", "--json")
					return assert.Equal("[]", strings.TrimSpace(stdout), "no sessions should remain")
				},
			},
		},
		Teardown: []harness.Step{
			{
				Name: "Stop the daemon",
				Func: func(ctx *harness.Context) error {
					if sb == nil {
						return nil
					}
					return sb.teardown()
				},
			},
		},
	}
}

// AgentDiesWithoutEditsScenario checks that an agent exiting before it
// edits anything ends failed.
func AgentDiesWithoutEditsScenario() *harness.Scenario {
	var sb *sandbox

	return &harness.Scenario{
		Name:        "taskagent-agent-dies",
		Description: "An agent that exits without edits is marked failed and can be removed.",
		Tags:        []string{"taskagent", "daemon", "tmux"},
		Steps: []harness.Step{
			{
				Name: "Launch an agent that exits",
				Func: func(ctx *harness.Context) error {
					if _, ok := requireTmux(); !ok {
						return nil
					}
					agent, err := writeStubAgent(ctx.NewDir("tools"), "echo thinking\nsleep 1\n")
					if err != nil {
						return err
					}
					if sb, err = newSandbox(ctx, "dies", agent); err != nil {
						return err
					}
					if err := sb.startDaemon(ctx); err != nil {
						return err
					}
					_, code, _ := sb.run(ctx, "launch", "E2E-2", "--prompt", "plan it")
					return assert.Equal(0, code, "launch should succeed")
				},
			},
			{
				Name: "Wait for failure and remove",
				Func: func(ctx *harness.Context) error {
					if sb == nil {
						return nil
					}
					sess, err := sb.waitForStatus(ctx, "E2E-2", "failed", 20*time.Second)
					if err != nil {
						return err
					}
					if err := assert.Contains(fmt.Sprint(sess["lastError"]), "exited before making changes", "failure should be explained"); err != nil {
						return err
					}

					_, code, _ := sb.run(ctx, "rm", "E2E-2")
					if err := assert.Equal(0, code, "rm should succeed"); err != nil {
						return err
					}
					stdout, _, _ := sb.run(ctx, "status", "--json")
					return assert.Equal("[]", strings.TrimSpace(stdout), "no sessions should remain")
				},
			},
		},
		Teardown: []harness.Step{
			{
				Name: "Stop the daemon",
				Func: func(ctx *harness.Context) error {
					if sb == nil {
						return nil
					}
					return sb.teardown()
				},
			},
		},
	}
}
