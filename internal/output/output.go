// Package output provides styled terminal output helpers (success, error,
// warning, row and queue formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/offsync/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	barFull      = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	barEmpty     = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	opStyles     = map[models.Operation]lipgloss.Style{
		models.OpAdd:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.OpUpdate: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.OpDelete: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Default column width for row titles.
const TitleWidth = 48

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeNotSignedIn  = "not_signed_in"
	ErrCodeStoreError   = "store_error"
	ErrCodeRemoteError  = "remote_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// Truncate shortens s to width terminal cells, ANSI-aware.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return ansi.Truncate(s, width, "…")
}

// RowTitle picks the display title of a row for its entity type.
func RowTitle(et models.EntityType, r models.Row) string {
	var keys []string
	switch et {
	case models.EntityTask:
		keys = []string{"text", "title"}
	default:
		keys = []string{"title", "text", "name"}
	}
	for _, k := range keys {
		if s, ok := r.Fields[k].(string); ok && s != "" {
			return s
		}
	}
	return "(untitled)"
}

// FormatRow formats one merged row in short form.
func FormatRow(et models.EntityType, r models.Row) string {
	var parts []string
	parts = append(parts, subtleStyle.Render(ShortID(r.ID)))

	switch et {
	case models.EntityTask:
		mark := "[ ]"
		if done, _ := r.Fields["done"].(bool); done {
			mark = successStyle.Render("[x]")
		}
		parts = append(parts, mark)
	case models.EntityBook:
		if author, ok := r.Fields["author"].(string); ok && author != "" {
			parts = append(parts, subtleStyle.Render(Truncate(author, 20)))
		}
	}

	parts = append(parts, Truncate(RowTitle(et, r), TitleWidth))
	if r.Pending {
		parts = append(parts, pendingStyle.Render("pending"))
	}
	return strings.Join(parts, "  ")
}

// FormatQueueEntry formats a queued mutation.
func FormatQueueEntry(e models.QueueEntry) string {
	op := string(e.Operation)
	if style, ok := opStyles[e.Operation]; ok {
		op = style.Render(fmt.Sprintf("%-6s", e.Operation))
	}
	target := e.RowID()
	parts := []string{
		subtleStyle.Render(ShortID(e.ID)),
		op,
		fmt.Sprintf("%-8s", e.EntityType),
		ShortID(target),
	}
	if e.RetryCount > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("retries:%d", e.RetryCount)))
	}
	parts = append(parts, subtleStyle.Render(FormatTimeAgo(e.EnqueuedAt)))
	return strings.Join(parts, "  ")
}

// FormatIdentity formats the signed-in identity.
func FormatIdentity(id *models.Identity) string {
	if id == nil {
		return subtleStyle.Render("not signed in")
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(id.DisplayName()))
	if id.DisplayName() != id.Email {
		sb.WriteString("  " + subtleStyle.Render(id.Email))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("id: %s\n", id.ID))
	if id.Profile.AvatarURL != nil && *id.Profile.AvatarURL != "" {
		sb.WriteString(fmt.Sprintf("avatar: %s\n", *id.Profile.AvatarURL))
	}
	if !id.Enriched {
		sb.WriteString(subtleStyle.Render("profile not loaded yet") + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatCountdown renders milliseconds as MM:SS.
func FormatCountdown(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := (ms + 999) / 1000
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// ProgressBar renders a fraction in [0,1] as a bar width cells wide.
func ProgressBar(fraction float64, width int) string {
	if width <= 0 {
		return ""
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	full := int(fraction*float64(width) + 0.5)
	return barFull.Render(strings.Repeat("█", full)) + barEmpty.Render(strings.Repeat("░", width-full))
}

// FormatFocus formats a focus session snapshot.
func FormatFocus(s models.FocusSession) string {
	switch s.Status {
	case models.FocusRunning:
		total := int64(s.DurationMinutes) * 60 * 1000
		frac := 0.0
		if total > 0 {
			frac = 1 - float64(s.RemainingMs)/float64(total)
		}
		return fmt.Sprintf("%s  %s  %s",
			titleStyle.Render(FormatCountdown(s.RemainingMs)),
			ProgressBar(frac, 30),
			subtleStyle.Render(fmt.Sprintf("%dm session, ends %s", s.DurationMinutes, s.EndTime.Local().Format("15:04"))))
	case models.FocusCompleted:
		return successStyle.Render("focus session complete")
	default:
		return subtleStyle.Render("no focus session running")
	}
}

// FormatFocusRecord formats one completed session from history.
func FormatFocusRecord(r models.FocusRecord) string {
	return fmt.Sprintf("%s  %3dm  %s",
		r.CompletedAt.Local().Format("2006-01-02 15:04"),
		r.DurationMinutes,
		subtleStyle.Render(FormatTimeAgo(r.CompletedAt)))
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// ShortID shortens long ids (UUIDs) to their last 8 characters.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// SectionHeader returns a bold section header
func SectionHeader(title string) string {
	return titleStyle.Render(title)
}
