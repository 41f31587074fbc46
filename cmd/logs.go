package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/taskagent/cli"
	"github.com/grovetools/taskagent/config"
	"github.com/grovetools/taskagent/logging"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

const defaultLogComponent = "taskagentd"

var (
	logAccent  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	logMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	logError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	logWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	logInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [component]",
		Short: "Show taskagent log files",
		Long: `Show the latest log file written by a component (default: taskagentd).

Examples:
  # Follow the daemon log
  taskagent logs -f

  # Last 100 lines of the CLI log as JSON lines
  taskagent logs cli --tail 100 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", 50, "Number of lines to show from the end of the log (-1 for all)")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}
	component := defaultLogComponent
	if len(args) == 1 {
		component = args[0]
	}

	path, err := findLogFile(logging.FromConfig(cfg), component)
	if err != nil {
		return err
	}
	cli.GetLogger(cmd).WithField("log_file", path).Debug("Reading log file")

	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")
	jsonOut := cli.GetOptions(cmd).JSONOutput
	out := cmd.OutOrStdout()

	emit := func(line string) {
		if jsonOut {
			printLogJSON(out, component, line)
		} else {
			printLogText(out, line)
		}
	}

	lines, err := lastLines(path, tailLines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		emit(line)
	}
	if !follow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow %s: %w", path, err)
	}
	defer t.Cleanup()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			emit(line.Text)
		}
	}
}

// findLogFile returns the configured log file, or the newest non-empty log
// for component in the log directory.
func findLogFile(logCfg logging.Config, component string) (string, error) {
	if p := config.ExpandHome(logCfg.File.Path); p != "" {
		return p, nil
	}
	if today := logging.LogFilePath(component, time.Now()); fileHasContent(today) {
		return today, nil
	}
	return findLatestLogFile(paths.LogDir(), component+"-")
}

func fileHasContent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// findLatestLogFile finds the most recently modified file in dir whose name
// starts with prefix. Non-empty files win over empty ones.
func findLatestLogFile(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("could not read log directory %s: %w", dir, err)
	}

	var latest, latestNonEmpty os.FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == nil || info.ModTime().After(latest.ModTime()) {
			latest = info
		}
		if info.Size() > 0 && (latestNonEmpty == nil || info.ModTime().After(latestNonEmpty.ModTime())) {
			latestNonEmpty = info
		}
	}

	switch {
	case latestNonEmpty != nil:
		return filepath.Join(dir, latestNonEmpty.Name()), nil
	case latest != nil:
		return filepath.Join(dir, latest.Name()), nil
	default:
		return "", fmt.Errorf("no %s*.log files found in %s", prefix, dir)
	}
}

// lastLines returns the final n non-empty lines of path, or all of them when
// n is negative.
func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
			if n >= 0 && len(lines) > n {
				lines = lines[1:]
			}
		}
	}
	return lines, scanner.Err()
}

// printLogJSON prints a log line as JSON, tagged with its component.
func printLogJSON(w io.Writer, component, line string) {
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(line), &logMap); err != nil {
		logMap = map[string]interface{}{"raw_line": line}
	}
	if _, ok := logMap["component"]; !ok {
		logMap["component"] = component
	}
	data, _ := json.Marshal(logMap)
	fmt.Fprintln(w, string(data))
}

// printLogText pretty-prints JSON log lines and passes text lines through.
func printLogText(w io.Writer, line string) {
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(line), &logMap); err != nil {
		fmt.Fprintln(w, line)
		return
	}

	ts, _ := logMap["time"].(string)
	level, _ := logMap["level"].(string)
	msg, _ := logMap["msg"].(string)
	component, _ := logMap["component"].(string)

	parsedTime, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		parsedTime, _ = time.Parse(time.RFC3339, ts)
	}

	var levelStyle lipgloss.Style
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		levelStyle = logError
	case "warning":
		levelStyle = logWarning
	case "info":
		levelStyle = logInfo
	default:
		levelStyle = logMuted
	}

	var keys []string
	for k := range logMap {
		switch k {
		case "time", "level", "msg", "component":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", logMuted.Render(k), logMap[k]))
	}

	fmt.Fprintf(w, "%s %s [%s] %s %s\n",
		parsedTime.Format("15:04:05"),
		levelStyle.Render(strings.ToUpper(level)),
		logAccent.Render(component),
		msg,
		strings.Join(fields, " "),
	)
}
