package cmd

import (
	"github.com/grovetools/taskagent/cli"
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the taskagent command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand(
		"taskagent",
		"Launch and supervise coding agents in tmux, one session per task",
	)
	root.Long = `taskagent runs a coding agent CLI for each task inside its own tmux
session, watches the output until the agent finishes, and records the
plan and the files it edited. A daemon owns the sessions; the other
commands talk to it over a unix socket.`

	root.AddCommand(
		NewDaemonCmd(),
		newLaunchCmd(),
		newRestartCmd(),
		newStopCmd(),
		newRemoveCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newAttachCmd(),
		NewLogsCmd(),
		NewConfigCmd(),
		NewPathsCmd(),
		NewDoctorCmd(),
		cli.NewVersionCommand("taskagent"),
	)

	cli.ApplyStyledHelpRecursive(root)
	return root
}
