package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/taskagent/pkg/agent"
	"github.com/mattn/go-isatty"
)

var statusStyles = map[agent.Status]lipgloss.Style{
	agent.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	agent.StatusProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	agent.StatusEditing:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	agent.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
	agent.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
}

// StatusSymbol returns the marker drawn next to a session status.
func StatusSymbol(s agent.Status) string {
	switch s {
	case agent.StatusCompleted:
		return "[*]"
	case agent.StatusFailed:
		return "[x]"
	case agent.StatusEditing:
		return "[~]"
	case agent.StatusProcessing:
		return "[>]"
	default:
		return "[.]"
	}
}

// RenderStatus colours a status for terminal output.
func RenderStatus(s agent.Status) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

// ProgressReporter redraws a board of sessions as events arrive
type ProgressReporter struct {
	mu       sync.Mutex
	out      io.Writer
	redraw   bool
	sessions map[string]agent.Session
	start    time.Time
}

// NewProgressReporter creates a reporter writing to out. The screen is only
// cleared between frames when out is a terminal.
func NewProgressReporter(out io.Writer) *ProgressReporter {
	redraw := false
	if f, ok := out.(*os.File); ok {
		redraw = isatty.IsTerminal(f.Fd())
	}
	return &ProgressReporter{
		out:      out,
		redraw:   redraw,
		sessions: make(map[string]agent.Session),
		start:    time.Now(),
	}
}

// Apply folds an event into the board and renders it
func (p *ProgressReporter) Apply(ev agent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case agent.EventSessionRemoved:
		delete(p.sessions, ev.TaskID)
	default:
		if ev.Session != nil {
			p.sessions[ev.TaskID] = *ev.Session
		}
	}
	p.render()
}

func (p *ProgressReporter) render() {
	if p.redraw {
		fmt.Fprint(p.out, "\033[H\033[2J")
	}

	elapsed := time.Since(p.start).Round(time.Second)
	fmt.Fprintf(p.out, "Watching %d agent session(s)... [%s]\n\n", len(p.sessions), elapsed)

	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sess := p.sessions[id]
		line := fmt.Sprintf("%s %s: %s", StatusSymbol(sess.Status), id, RenderStatus(sess.Status))
		if n := len(sess.EditedFiles); n > 0 {
			line += fmt.Sprintf(" (%d file(s): %s)", n, strings.Join(sess.EditedFiles, ", "))
		}
		if sess.LastError != "" {
			line += " - " + sess.LastError
		}
		fmt.Fprintln(p.out, line)
	}
}

// Done prints how long the watch ran
func (p *ProgressReporter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.start).Round(time.Millisecond)
	fmt.Fprintf(p.out, "\nWatched for %s\n", elapsed)
}
