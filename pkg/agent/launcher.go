package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/taskagent/command"
	"github.com/grovetools/taskagent/config"
	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/logging"
	"github.com/grovetools/taskagent/pkg/tmux"
	"github.com/sirupsen/logrus"
)

// ProcessLauncher starts, stops and queries named multiplexer sessions.
type ProcessLauncher interface {
	// Spawn starts the agent in a new detached session. Any existing
	// session with the same name is killed first.
	Spawn(ctx context.Context, sessionName, workingDir, prompt string) error
	// IsAlive reports whether the session exists. Query errors read as false.
	IsAlive(ctx context.Context, sessionName string) bool
	// Kill terminates the session. Killing an absent session is a no-op.
	Kill(ctx context.Context, sessionName string)
	// Attach opens an external terminal attached to the session.
	Attach(ctx context.Context, sessionName string) error
}

// OutputCapture reads the recent transcript of a session.
type OutputCapture interface {
	Capture(ctx context.Context, sessionName string) (string, error)
}

// SessionLister is implemented by launchers that can enumerate sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]string, error)
}

// ToolResolver returns the absolute path of an executable.
type ToolResolver func(ctx context.Context, tool string) (string, error)

const resolveTimeout = 15 * time.Second

var safeShellWord = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellQuote quotes s for POSIX sh.
func shellQuote(s string) string {
	if s != "" && safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// profileSource renders a prefix that sources each readable profile with
// its output discarded. A leading "~/" is resolved against $HOME at run time.
func profileSource(profiles []string) string {
	var b strings.Builder
	for _, p := range profiles {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		target := shellQuote(p)
		if rest, ok := strings.CutPrefix(p, "~/"); ok {
			target = `"$HOME"/` + shellQuote(rest)
		}
		fmt.Fprintf(&b, "[ -r %s ] && . %s >/dev/null 2>&1; ", target, target)
	}
	return b.String()
}

// ResolveTool locates tool the way the user's login shell would, after
// sourcing profiles. It falls back to PATH lookup in the current process.
func ResolveTool(ctx context.Context, builder *command.SafeBuilder, shell string, profiles []string, tool string) (string, error) {
	if filepath.IsAbs(tool) {
		info, err := os.Stat(tool)
		if err != nil {
			return "", err
		}
		if info.IsDir() || info.Mode()&0111 == 0 {
			return "", fmt.Errorf("%s is not executable", tool)
		}
		return tool, nil
	}

	script := profileSource(profiles) + "command -v " + shellQuote(tool)
	cmd, err := builder.Build(ctx, shell, "-c", script)
	if err == nil {
		out, runErr := cmd.WithTimeout(resolveTimeout).CombinedOutput()
		if runErr == nil {
			if path := lastLine(string(out)); filepath.IsAbs(path) {
				return path, nil
			}
		}
	}

	return exec.LookPath(tool)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// TmuxLauncher runs the agent CLI inside tmux sessions.
type TmuxLauncher struct {
	client       *tmux.Client
	builder      *command.SafeBuilder
	shell        string
	profiles     []string
	agentCommand string
	agentArgs    []string
	installHint  string
	warmup       time.Duration
	captureLines int
	openCommand  []string
	promptDir    string
	resolve      ToolResolver
	logger       *logrus.Entry
}

// LauncherOption configures a TmuxLauncher.
type LauncherOption func(*TmuxLauncher)

// WithToolResolver replaces login-shell tool resolution.
func WithToolResolver(resolve ToolResolver) LauncherOption {
	return func(l *TmuxLauncher) { l.resolve = resolve }
}

// WithWarmup overrides the delay Spawn waits for the agent to start.
func WithWarmup(d time.Duration) LauncherOption {
	return func(l *TmuxLauncher) { l.warmup = d }
}

// WithPromptDir sets where prompt files are written.
func WithPromptDir(dir string) LauncherOption {
	return func(l *TmuxLauncher) { l.promptDir = dir }
}

func WithLauncherLogger(logger *logrus.Entry) LauncherOption {
	return func(l *TmuxLauncher) { l.logger = logger }
}

// NewTmuxLauncher builds a launcher from cfg using client for all tmux calls.
func NewTmuxLauncher(client *tmux.Client, cfg *config.Config, opts ...LauncherOption) *TmuxLauncher {
	l := &TmuxLauncher{
		client:       client,
		builder:      command.NewSafeBuilder(),
		shell:        cfg.Shell.Path,
		profiles:     cfg.Shell.Profiles,
		agentCommand: cfg.Agent.Command,
		agentArgs:    cfg.AgentArgs(),
		installHint:  cfg.Agent.InstallHint,
		warmup:       cfg.WarmupDelay(),
		captureLines: cfg.Tmux.CaptureLines,
		openCommand:  cfg.Terminal.OpenCommand,
		promptDir:    os.TempDir(),
		logger:       logging.NewLogger("launcher"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.resolve == nil {
		l.resolve = func(ctx context.Context, tool string) (string, error) {
			return ResolveTool(ctx, l.builder, l.shell, l.profiles, tool)
		}
	}
	return l
}

func (l *TmuxLauncher) Spawn(ctx context.Context, sessionName, workingDir, prompt string) error {
	l.Kill(ctx, sessionName)

	if _, err := l.resolve(ctx, l.client.Binary()); err != nil {
		return errors.ToolMissing("tmux", tmuxInstallHint)
	}
	agentPath, err := l.resolve(ctx, l.agentCommand)
	if err != nil {
		return errors.ToolMissing(l.agentCommand, l.installHint)
	}

	if err := l.builder.Validate("sessionName", sessionName); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid session name").
			WithDetail("session", sessionName)
	}
	if err := l.builder.Validate("workingDir", workingDir); err != nil {
		return errors.WorkingDirInvalid(workingDir, err)
	}
	dir, err := config.CheckWorkingDir(workingDir)
	if err != nil {
		return err
	}

	promptFile, err := l.writePrompt(prompt)
	if err != nil {
		return errors.LaunchFailure(err.Error())
	}

	script := l.agentScript(agentPath, dir, promptFile)
	output, err := l.client.NewSession(ctx, sessionName, dir, l.shell, "-c", script)
	if err != nil {
		_ = os.Remove(promptFile)
		if msg := strings.TrimSpace(output); msg != "" {
			return errors.LaunchFailure(msg)
		}
		return errors.LaunchFailure(err.Error())
	}

	l.logger.WithFields(logrus.Fields{
		"session": sessionName,
		"dir":     dir,
		"agent":   agentPath,
	}).Info("Started agent session")

	if l.warmup > 0 {
		timer := time.NewTimer(l.warmup)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			l.Kill(context.Background(), sessionName)
			return errors.Wrap(ctx.Err(), errors.ErrCodeLaunchFailed, "agent launch cancelled during warm-up").
				WithDetail("session", sessionName)
		case <-timer.C:
		}
	}
	return nil
}

const tmuxInstallHint = "Install with: brew install tmux (macOS) or your package manager"

func (l *TmuxLauncher) writePrompt(prompt string) (string, error) {
	path := filepath.Join(l.promptDir, fmt.Sprintf("taskagent-prompt-%s.txt", uuid.New().String()))
	if err := l.builder.Validate("fileName", path); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(prompt), 0600); err != nil {
		return "", fmt.Errorf("failed to write prompt file: %w", err)
	}
	return path, nil
}

// agentScript sources the profiles, enters dir and runs the agent with the
// prompt file's contents as its only positional argument. The prompt file
// is removed once the agent exits.
func (l *TmuxLauncher) agentScript(agentPath, dir, promptFile string) string {
	parts := []string{shellQuote(agentPath)}
	for _, arg := range l.agentArgs {
		parts = append(parts, shellQuote(arg))
	}
	parts = append(parts, fmt.Sprintf(`"$(cat %s)"`, shellQuote(promptFile)))

	return fmt.Sprintf("%scd %s && %s; rm -f %s",
		profileSource(l.profiles), shellQuote(dir), strings.Join(parts, " "), shellQuote(promptFile))
}

func (l *TmuxLauncher) IsAlive(ctx context.Context, sessionName string) bool {
	exists, err := l.client.SessionExists(ctx, sessionName)
	if err != nil {
		l.logger.WithError(err).WithField("session", sessionName).Debug("Liveness check failed")
		return false
	}
	return exists
}

func (l *TmuxLauncher) Kill(ctx context.Context, sessionName string) {
	if err := l.client.KillSession(ctx, sessionName); err != nil && !tmux.IsCommandError(err) {
		l.logger.WithError(err).WithField("session", sessionName).Debug("Kill failed")
	}
}

func (l *TmuxLauncher) Capture(ctx context.Context, sessionName string) (string, error) {
	out, err := l.client.CaptureHistory(ctx, sessionName, l.captureLines)
	if err != nil {
		return "", errors.CaptureFailure(sessionName, err)
	}
	return out, nil
}

func (l *TmuxLauncher) ListSessions(ctx context.Context) ([]string, error) {
	return l.client.ListSessions(ctx)
}

// Attach runs the configured terminal command with {session} and {attach}
// substituted.
func (l *TmuxLauncher) Attach(ctx context.Context, sessionName string) error {
	if !l.IsAlive(ctx, sessionName) {
		return errors.SessionNotAlive(sessionName)
	}
	if len(l.openCommand) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "terminal.open_command is empty")
	}

	attach := l.client.AttachCommand(sessionName)
	quoted := make([]string, len(attach))
	for i, a := range attach {
		quoted[i] = shellQuote(a)
	}
	replacer := strings.NewReplacer("{session}", sessionName, "{attach}", strings.Join(quoted, " "))

	argv := make([]string, len(l.openCommand))
	for i, a := range l.openCommand {
		argv[i] = replacer.Replace(a)
	}

	cmd, err := l.builder.Build(ctx, argv[0], argv[1:]...)
	if err != nil {
		return errors.CommandFailed(argv[0], err)
	}
	if out, err := cmd.WithTimeout(30 * time.Second).CombinedOutput(); err != nil {
		return errors.CommandFailed(cmd.String(), err).WithDetail("output", strings.TrimSpace(string(out)))
	}
	return nil
}
