package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grovetools/taskagent/cli"
	"github.com/grovetools/taskagent/internal/daemon/engine"
	"github.com/grovetools/taskagent/internal/daemon/pidfile"
	"github.com/grovetools/taskagent/internal/daemon/server"
	"github.com/grovetools/taskagent/logging"
	"github.com/grovetools/taskagent/pkg/daemon"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/grovetools/taskagent/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// NewDaemonCmd returns the daemon command with its subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the agent supervisor daemon",
		Long:  "The daemon owns every agent session, polls their output and serves the API the other commands talk to.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewLogger("taskagentd")

			lock, err := pidfile.Acquire(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := lock.Release(); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cwd, _ := os.Getwd()
			eng, err := engine.New(ctx, cfg, cwd)
			if err != nil {
				return err
			}

			srv := server.New(logger)
			srv.SetEngine(eng)

			engineDone := make(chan error, 1)
			go func() { engineDone <- eng.Start(ctx) }()

			serveErr := make(chan error, 1)
			sockPath := daemon.SocketPath(cfg)
			go func() {
				logger.WithFields(logrus.Fields{
					"pid":     os.Getpid(),
					"socket":  sockPath,
					"version": version.GetInfo().Short(),
				}).Info("Starting daemon")
				serveErr <- srv.ListenAndServe(sockPath)
			}()

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("Received stop signal")
			case err := <-serveErr:
				if err != nil {
					runErr = fmt.Errorf("server error: %w", err)
				}
				cancel()
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("Server shutdown error: %v", err)
			}
			if err := <-engineDone; err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long:  "Stop the daemon. Agent sessions keep running and are picked up again on the next start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

// DaemonStatus is the machine-readable form of "daemon status".
type DaemonStatus struct {
	Running bool                  `json:"running"`
	PID     int                   `json:"pid,omitempty"`
	Socket  string                `json:"socket"`
	Config  *daemon.RunningConfig `json:"config,omitempty"`
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}

			status := DaemonStatus{Socket: daemon.SocketPath(cfg)}
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}
			status.Running, status.PID = running, pid

			if running {
				if client, err := daemon.Connect(status.Socket); err == nil {
					defer client.Close()
					if rc, err := client.Config(cmd.Context()); err == nil {
						status.Config = rc
					}
				}
			}

			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), status)
			}

			c := console(cmd)
			if !status.Running {
				c.Warn("Daemon is not running")
				return nil
			}
			c.Success(fmt.Sprintf("Daemon is running (PID: %d)", status.PID))
			c.Path("Socket", status.Socket)
			rc := status.Config
			if rc == nil {
				c.Warn("Socket is not responding")
				return nil
			}
			c.Field("Version", rc.Version)
			c.Field("Started", rc.StartedAt.Format(time.RFC3339))
			if rc.ConfigFile != "" {
				c.Path("Config", rc.ConfigFile)
			}
			if rc.WorkingDirectory != "" {
				c.Path("Working directory", rc.WorkingDirectory)
			}
			c.Field("Persistence", rc.PersistenceDriver)
			c.Field("Poll interval", rc.PollInterval)
			return nil
		},
	}
}
