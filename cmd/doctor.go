package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/taskagent/cli"
	"github.com/grovetools/taskagent/command"
	"github.com/grovetools/taskagent/config"
	"github.com/grovetools/taskagent/internal/daemon/pidfile"
	"github.com/grovetools/taskagent/pkg/agent"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/spf13/cobra"
)

var (
	checkOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	checkFail = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("✗")
	checkWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("!")
)

// Check is the outcome of one doctor probe.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Warn   bool   `json:"warn,omitempty"`
	Detail string `json:"detail,omitempty"`
	Hint   string `json:"hint,omitempty"`
}

func NewDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that taskagent can launch agents",
		Long:  "Resolve tmux and the agent CLI through the login shell, check the default working directory and report whether the daemon is running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}

			builder := command.NewSafeBuilder()
			resolve := func(ctx context.Context, tool string) (string, error) {
				return agent.ResolveTool(ctx, builder, cfg.Shell.Path, cfg.Shell.Profiles, tool)
			}
			running, pid, _ := pidfile.IsRunning(paths.PidFilePath())
			checks := runChecks(cmd.Context(), cfg, resolve, running, pid)

			if cli.GetOptions(cmd).JSONOutput {
				if err := printJSON(cmd.OutOrStdout(), checks); err != nil {
					return err
				}
			} else {
				printChecks(cmd.OutOrStdout(), checks)
			}

			failed := 0
			for _, c := range checks {
				if !c.OK && !c.Warn {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, cfg *config.Config, resolve agent.ToolResolver, daemonRunning bool, pid int) []Check {
	var checks []Check

	tool := func(name, bin, hint string) {
		c := Check{Name: name}
		if path, err := resolve(ctx, bin); err != nil {
			c.Detail = fmt.Sprintf("%s not found", bin)
			c.Hint = hint
		} else {
			c.OK, c.Detail = true, path
		}
		checks = append(checks, c)
	}
	tool("tmux", cfg.Tmux.Binary, "Install with: brew install tmux (macOS) or your package manager")
	tool("agent", cfg.Agent.Command, cfg.Agent.InstallHint)

	wd := Check{Name: "working directory"}
	if cfg.Agent.WorkingDirectory == "" {
		wd.Warn = true
		wd.Detail = "not configured"
		wd.Hint = "Set agent.working_directory or pass --dir to launch"
	} else if dir, err := config.CheckWorkingDir(cfg.Agent.WorkingDirectory); err != nil {
		wd.Detail = err.Error()
	} else {
		wd.OK, wd.Detail = true, dir
	}
	checks = append(checks, wd)

	dc := Check{Name: "daemon"}
	if daemonRunning {
		dc.OK, dc.Detail = true, fmt.Sprintf("running (PID %d)", pid)
	} else {
		dc.Warn = true
		dc.Detail = "not running"
		dc.Hint = "Start it with 'taskagent daemon start'"
	}
	checks = append(checks, dc)

	return checks
}

func printChecks(w io.Writer, checks []Check) {
	for _, c := range checks {
		mark := checkOK
		switch {
		case c.Warn:
			mark = checkWarn
		case !c.OK:
			mark = checkFail
		}
		fmt.Fprintf(w, "%s %-18s %s\n", mark, c.Name, c.Detail)
		if c.Hint != "" && !c.OK {
			fmt.Fprintf(w, "  %s\n", c.Hint)
		}
	}
}
