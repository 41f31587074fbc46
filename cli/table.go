package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/grovetools/taskagent/pkg/agent"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderSessionTable renders sessions as a bordered table.
func RenderSessionTable(sessions []agent.Session, now time.Time) string {
	t := ltable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("TASK", "STATUS", "FILES", "AGE", "SESSION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, s := range sessions {
		t.Row(
			s.TaskID,
			StatusSymbol(s.Status)+" "+RenderStatus(s.Status),
			fmt.Sprintf("%d", len(s.EditedFiles)),
			formatAge(now.Sub(s.StartedAt)),
			s.SessionName,
		)
	}
	return t.String()
}

// RenderSessionDetail renders one session with its edited files and plan.
func RenderSessionDetail(s agent.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(s.TaskID), RenderStatus(s.Status))
	fmt.Fprintf(&b, "  Session:  %s\n", s.SessionName)
	if s.WorkingDir != "" {
		fmt.Fprintf(&b, "  Dir:      %s\n", s.WorkingDir)
	}
	fmt.Fprintf(&b, "  Started:  %s\n", s.StartedAt.Format(time.RFC3339))
	if s.CompletedAt != nil {
		fmt.Fprintf(&b, "  Finished: %s\n", s.CompletedAt.Format(time.RFC3339))
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, "  Error:    %s\n", errorStyle.Render(s.LastError))
	}
	if len(s.EditedFiles) > 0 {
		b.WriteString("\n " + sectionStyle.Render("EDITED FILES") + "\n")
		for _, f := range s.EditedFiles {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	if plan := strings.TrimSpace(s.Plan); plan != "" {
		b.WriteString("\n " + sectionStyle.Render("PLAN") + "\n")
		for _, line := range strings.Split(plan, "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}

func formatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "-"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
