package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Console prints user-facing CLI output. It is separate from the structured
// loggers, which go to files and (optionally) stderr.
type Console struct {
	writer io.Writer
	styles ConsoleStyles
}

// ConsoleStyles contains lipgloss styles for console output.
type ConsoleStyles struct {
	Success lipgloss.Style
	Info    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Key     lipgloss.Style
	Value   lipgloss.Style
	Path    lipgloss.Style
	Code    lipgloss.Style
	Muted   lipgloss.Style
}

func DefaultConsoleStyles() ConsoleStyles {
	return ConsoleStyles{
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Key:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Value:   lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		Path:    lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Italic(true),
		Code:    lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// NewConsole writes to stdout.
func NewConsole() *Console {
	return &Console{
		writer: os.Stdout,
		styles: DefaultConsoleStyles(),
	}
}

// WithWriter sets a custom writer for console output
func (c *Console) WithWriter(w io.Writer) *Console {
	c.writer = w
	return c
}

func (c *Console) Success(message string) {
	fmt.Fprintf(c.writer, "%s %s\n", c.styles.Success.Render("✓"), c.styles.Success.Render(message))
}

func (c *Console) Info(message string) {
	fmt.Fprintln(c.writer, c.styles.Info.Render(message))
}

func (c *Console) Warn(message string) {
	fmt.Fprintf(c.writer, "%s %s\n", c.styles.Warning.Render("⚠"), c.styles.Warning.Render(message))
}

// Error prints message and, when non-nil, err.
func (c *Console) Error(message string, err error) {
	fmt.Fprintf(c.writer, "%s %s", c.styles.Error.Render("✗"), c.styles.Error.Render(message))
	if err != nil {
		fmt.Fprintf(c.writer, ": %s", c.styles.Error.Render(err.Error()))
	}
	fmt.Fprintln(c.writer)
}

// Field prints a key-value pair.
func (c *Console) Field(key string, value interface{}) {
	fmt.Fprintf(c.writer, "%s: %s\n", c.styles.Key.Render(key), c.styles.Value.Render(fmt.Sprint(value)))
}

func (c *Console) Path(label, path string) {
	fmt.Fprintf(c.writer, "%s: %s\n", c.styles.Key.Render(label), c.styles.Path.Render(path))
}

// Code prints indented command output or agent scrollback.
func (c *Console) Code(content string) {
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		fmt.Fprintf(c.writer, "  %s\n", c.styles.Code.Render(line))
	}
}

// Status renders an agent status with a color per lifecycle stage.
func (c *Console) Status(status string) string {
	switch status {
	case "completed":
		return c.styles.Success.Render(status)
	case "failed":
		return c.styles.Error.Render(status)
	case "editing":
		return c.styles.Warning.Render(status)
	case "processing":
		return c.styles.Info.Render(status)
	default:
		return c.styles.Muted.Render(status)
	}
}

func (c *Console) Divider() {
	fmt.Fprintln(c.writer, c.styles.Key.Render(strings.Repeat("─", 60)))
}

// Writer exposes the underlying writer for tabular output.
func (c *Console) Writer() io.Writer {
	return c.writer
}
