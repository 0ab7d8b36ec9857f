package focusview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
)

var (
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")

	spinnerStyle = lipgloss.NewStyle().Foreground(primaryColor)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 3)

	clockStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	subtleStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
)

const barWidth = 32

func (m *Model) renderView() string {
	var body strings.Builder

	switch m.Session.Status {
	case models.FocusRunning:
		body.WriteString(m.spinner.View() + " " + clockStyle.Render(output.FormatCountdown(m.Session.RemainingMs)))
		body.WriteString("\n\n")
		body.WriteString(output.ProgressBar(m.progress(), barWidth))
		body.WriteString("\n\n")
		body.WriteString(subtleStyle.Render(fmt.Sprintf("%d minute session, ends %s",
			m.Session.DurationMinutes, m.Session.EndTime.Local().Format("15:04:05"))))
	case models.FocusCompleted:
		msg := "Focus session complete"
		if m.Completed != nil {
			msg = fmt.Sprintf("Focus session complete: %d minutes", m.Completed.DurationMinutes)
		}
		body.WriteString(successStyle.Render(msg))
	default:
		body.WriteString(subtleStyle.Render("No focus session running"))
	}

	out := panelStyle.Render(body.String())
	if m.Session.Status == models.FocusRunning {
		out += "\n" + m.help.View(m.keys)
	}
	return out + "\n"
}

// progress is the elapsed fraction of the session.
func (m *Model) progress() float64 {
	total := int64(m.Session.DurationMinutes) * 60 * 1000
	if total <= 0 {
		return 0
	}
	return 1 - float64(m.Session.RemainingMs)/float64(total)
}
