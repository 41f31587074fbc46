package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/grovetools/taskagent/cli"
	"github.com/grovetools/taskagent/command"
	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/logging"
	"github.com/grovetools/taskagent/pkg/agent"
	"github.com/grovetools/taskagent/pkg/daemon"
	"github.com/grovetools/taskagent/pkg/tmux"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// clientFactory is replaced in tests.
var clientFactory = daemon.New

func withClient(cmd *cobra.Command, fn func(client daemon.Client) error) error {
	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := clientFactory(cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readPrompt resolves "-" to the contents of stdin.
func readPrompt(cmd *cobra.Command, prompt string) (string, error) {
	if prompt != "-" {
		return prompt, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read prompt from stdin")
	}
	return strings.TrimSpace(string(data)), nil
}

func console(cmd *cobra.Command) *logging.Console {
	return logging.NewConsole().WithWriter(cmd.OutOrStdout())
}

func printSession(cmd *cobra.Command, verb string, sess *agent.Session) error {
	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(cmd.OutOrStdout(), sess)
	}
	c := console(cmd)
	c.Success(fmt.Sprintf("%s agent for task %s", verb, sess.TaskID))
	c.Field("Session", sess.SessionName)
	if sess.WorkingDir != "" {
		c.Path("Working directory", sess.WorkingDir)
	}
	return nil
}

func newLaunchCmd() *cobra.Command {
	var prompt, description, dir string

	cmd := &cobra.Command{
		Use:   "launch <task-id>",
		Short: "Launch a coding agent for a task",
		Long: `Launch a coding agent for a task inside a dedicated tmux session.

The prompt is sent verbatim. A description is rendered into the configured
prompt template instead. Launching a task that already has a session
returns the existing session.

Examples:
  # Launch with a literal prompt
  taskagent launch T-42 --prompt "Fix the login redirect"

  # Render the description into the prompt template
  taskagent launch T-42 --description "Rotate API keys" --dir ~/src/api

  # Read the prompt from stdin
  cat prompt.md | taskagent launch T-42 --prompt -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readPrompt(cmd, prompt)
			if err != nil {
				return err
			}
			return withClient(cmd, func(client daemon.Client) error {
				sess, err := client.Launch(cmd.Context(), daemon.LaunchRequest{
					TaskID:      args[0],
					Prompt:      p,
					Description: description,
					WorkingDir:  dir,
				})
				if err != nil {
					return err
				}
				return printSession(cmd, "Launched", sess)
			})
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt sent to the agent (- reads stdin)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description rendered into the prompt template")
	cmd.Flags().StringVar(&dir, "dir", "", "Working directory (default: agent.working_directory)")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var prompt, description, dir string

	cmd := &cobra.Command{
		Use:   "restart <task-id>",
		Short: "Kill and relaunch a task's agent",
		Long:  "Kill the task's agent session and start a fresh one. Without --prompt or --description the previous prompt is reused.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readPrompt(cmd, prompt)
			if err != nil {
				return err
			}
			return withClient(cmd, func(client daemon.Client) error {
				sess, err := client.Restart(cmd.Context(), args[0], daemon.RestartRequest{
					Prompt:      p,
					Description: description,
					WorkingDir:  dir,
				})
				if err != nil {
					return err
				}
				return printSession(cmd, "Restarted", sess)
			})
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "New prompt (- reads stdin)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New task description rendered into the prompt template")
	cmd.Flags().StringVar(&dir, "dir", "", "New working directory")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Kill a task's agent and mark it failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(client daemon.Client) error {
				if err := client.Stop(cmd.Context(), args[0]); err != nil {
					return err
				}
				console(cmd).Success("Stopped agent for task " + args[0])
				return nil
			})
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <task-id>",
		Aliases: []string{"rm"},
		Short:   "Kill a task's agent and forget it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(client daemon.Client) error {
				if err := client.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				console(cmd).Success("Removed task " + args[0])
				return nil
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	var showOutput bool

	cmd := &cobra.Command{
		Use:     "status [task-id]",
		Aliases: []string{"ls"},
		Short:   "Show agent sessions",
		Long:    "Show every known agent session, or the details of one. Works from persisted state when the daemon is down.",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut := cli.GetOptions(cmd).JSONOutput
			out := cmd.OutOrStdout()

			return withClient(cmd, func(client daemon.Client) error {
				if len(args) == 1 {
					sess, err := client.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if jsonOut {
						return printJSON(out, sess)
					}
					fmt.Fprint(out, cli.RenderSessionDetail(*sess))
					if showOutput && sess.Output != "" {
						c := console(cmd)
						c.Divider()
						c.Code(sess.Output)
					}
					return nil
				}

				sessions, err := client.List(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					if sessions == nil {
						sessions = []agent.Session{}
					}
					return printJSON(out, sessions)
				}
				if !client.IsRunning() {
					console(cmd).Warn("Daemon is not running; showing persisted state.")
				}
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No agent sessions.")
					return nil
				}
				fmt.Fprintln(out, cli.RenderSessionTable(sessions, time.Now()))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showOutput, "output", false, "Include the captured agent output (live sessions only)")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var useSSE, untilDone bool

	cmd := &cobra.Command{
		Use:   "watch [task-id...]",
		Short: "Follow agent sessions live",
		Long: `Follow session updates from the daemon. Pass task ids to only show
those tasks. With --until-done the command exits once every shown
session has completed or failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			return withClient(cmd, func(client daemon.Client) error {
				var (
					events <-chan agent.Event
					err    error
				)
				if useSSE {
					events, err = client.Stream(ctx)
				} else {
					events, err = client.Watch(ctx)
				}
				if err != nil {
					return err
				}
				return followEvents(ctx, cmd.OutOrStdout(), events, args, untilDone, cli.GetOptions(cmd).JSONOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&useSSE, "sse", false, "Use the server-sent event stream instead of the websocket")
	cmd.Flags().BoolVar(&untilDone, "until-done", false, "Exit when every shown session has finished")
	return cmd
}

// followEvents renders events until the channel closes, ctx ends or, with
// untilDone, every tracked session is terminal.
func followEvents(ctx context.Context, out io.Writer, events <-chan agent.Event, only []string, untilDone, jsonOut bool) error {
	filter := make(map[string]bool, len(only))
	for _, id := range only {
		filter[id] = true
	}

	var reporter *cli.ProgressReporter
	if !jsonOut {
		reporter = cli.NewProgressReporter(out)
		defer reporter.Done()
	}

	statuses := make(map[string]agent.Status)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if len(filter) > 0 && !filter[ev.TaskID] {
				continue
			}

			if ev.Type == agent.EventSessionRemoved {
				delete(statuses, ev.TaskID)
			} else if ev.Session != nil {
				statuses[ev.TaskID] = ev.Session.Status
			}

			if jsonOut {
				if err := json.NewEncoder(out).Encode(ev); err != nil {
					return err
				}
			} else {
				reporter.Apply(ev)
			}

			if untilDone && allTerminal(statuses, filter) {
				return nil
			}
		}
	}
}

func allTerminal(statuses map[string]agent.Status, filter map[string]bool) bool {
	if len(statuses) == 0 {
		return false
	}
	for id := range filter {
		if _, seen := statuses[id]; !seen {
			return false
		}
	}
	for _, s := range statuses {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

func newAttachCmd() *cobra.Command {
	var external bool

	cmd := &cobra.Command{
		Use:   "attach <task-id>",
		Short: "Attach to a task's agent session",
		Long: `Attach the current terminal to the task's tmux session. When stdin is
not a terminal, or with --external, the daemon opens the configured
external terminal instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := clientFactory(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			if external || !term.IsTerminal(int(os.Stdin.Fd())) {
				return client.Open(cmd.Context(), args[0])
			}

			sess, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tc, err := tmux.NewClient(tmux.WithSocket(cfg.Tmux.Socket), tmux.WithBinary(cfg.Tmux.Binary))
			if err != nil {
				return errors.ToolMissing(cfg.Tmux.Binary, "Install with: brew install tmux (macOS) or your package manager")
			}
			if alive, _ := tc.SessionExists(cmd.Context(), sess.SessionName); !alive {
				return errors.SessionNotAlive(sess.SessionName)
			}

			argv := tc.AttachCommand(sess.SessionName)
			built, err := command.NewSafeBuilder().Build(cmd.Context(), argv[0], argv[1:]...)
			if err != nil {
				return err
			}
			c := built.Exec(cmd.Context())
			c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
			return c.Run()
		},
	}

	cmd.Flags().BoolVar(&external, "external", false, "Open the configured external terminal instead")
	return cmd
}
