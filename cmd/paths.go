package cmd

import (
	"github.com/grovetools/taskagent/cli"
	"github.com/grovetools/taskagent/config"
	"github.com/grovetools/taskagent/pkg/daemon"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput represents the paths used by taskagent.
type PathsOutput struct {
	ConfigDir    string `json:"config_dir"`
	GlobalConfig string `json:"global_config"`
	StateDir     string `json:"state_dir"`
	LogDir       string `json:"log_dir"`
	Socket       string `json:"socket"`
	PidFile      string `json:"pid_file"`
	Database     string `json:"database"`
}

func NewPathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by taskagent",
		Long: `Print the paths used by taskagent as JSON.

All of them move under $TASKAGENT_HOME when it is set:
- config_dir: Global configuration (taskagent.yml)
- state_dir: Session database and logs
- socket: Daemon API socket
- pid_file: Daemon lock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}

			output := PathsOutput{
				ConfigDir:    paths.ConfigDir(),
				GlobalConfig: config.GlobalConfigPath(),
				StateDir:     paths.StateDir(),
				LogDir:       paths.LogDir(),
				Socket:       daemon.SocketPath(cfg),
				PidFile:      paths.PidFilePath(),
				Database:     paths.DatabasePath(),
			}
			if cfg.Persistence.Path != "" {
				output.Database = config.ExpandHome(cfg.Persistence.Path)
			}
			return printJSON(cmd.OutOrStdout(), output)
		},
	}

	return cmd
}
