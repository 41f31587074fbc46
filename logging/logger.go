package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/taskagent/config"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	// installed is set by Configure; nil means "load from taskagent.yml".
	installed *Config
)

// Configure installs cfg for loggers created afterwards. Loggers that were
// already created are rebuilt on their next NewLogger call.
func Configure(cfg Config) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	installed = &cfg
	loggers = make(map[string]*logrus.Entry)
}

// FromConfig extracts the logging extension from a loaded configuration.
func FromConfig(cfg *config.Config) Config {
	var logCfg Config
	if cfg == nil {
		return logCfg
	}
	if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		logrus.Warnf("Failed to parse 'logging' config: %v", err)
	}
	return logCfg
}

// NewLogger returns the logger for component, creating it on first use.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	var logCfg Config
	if installed != nil {
		logCfg = *installed
	} else if cfg, err := config.LoadDefault(); err == nil {
		logCfg = FromConfig(cfg)
	}

	entry := build(component, logCfg).WithField("component", component)
	loggers[component] = entry
	return entry
}

func build(component string, logCfg Config) *logrus.Logger {
	logger := logrus.New()

	levelStr := "info"
	if env := os.Getenv("TASKAGENT_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv("TASKAGENT_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	stderrIsTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format, Color: stderrIsTTY})
	}

	var writers []io.Writer
	if file := openLogFile(component, logCfg.File); file != nil {
		writers = append(writers, file)
	}

	stderrMode := logCfg.Format.StructuredToStderr
	if stderrMode == "" {
		stderrMode = "auto"
	}
	switch stderrMode {
	case "always":
		writers = append(writers, os.Stderr)
	case "auto":
		// Interactive terminals only see structured logs at debug level.
		if logger.GetLevel() >= logrus.DebugLevel || !stderrIsTTY {
			writers = append(writers, os.Stderr)
		}
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	return logger
}

func openLogFile(component string, sink FileSinkConfig) io.Writer {
	if sink.Disabled {
		return nil
	}

	path := config.ExpandHome(sink.Path)
	if path == "" {
		dir := paths.LogDir()
		if dir == "" {
			return nil
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%s.log", component, time.Now().Format("2006-01-02")))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		if sink.Path != "" {
			logrus.Warnf("Failed to create log directory for %s: %v", path, err)
		}
		return nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		if sink.Path != "" {
			logrus.Warnf("Failed to open log file %s: %v", path, err)
		}
		return nil
	}
	return file
}

// LogFilePath returns the default log file for component on the given day.
func LogFilePath(component string, day time.Time) string {
	return filepath.Join(paths.LogDir(), fmt.Sprintf("%s-%s.log", component, day.Format("2006-01-02")))
}
