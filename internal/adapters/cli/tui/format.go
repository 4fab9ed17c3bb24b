package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/devbush/docscribe/internal/domain"
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	WarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	MutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// FormatCount formats a number with K/M suffix
// Examples: 892 -> "892", 1234 -> "1.2K", 1500000 -> "1.5M"
func FormatCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000)
	}
	if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatSize formats a byte count as "1.5 GB", "466 MB", "12 KB" or "512 B"
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.0f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.0f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatCost formats dollars with four decimals
func FormatCost(dollars float64) string {
	return fmt.Sprintf("$%.4f", dollars)
}

// FormatMinutes formats a minute count as "45m" or "3h12m"
func FormatMinutes(minutes float64) string {
	d := time.Duration(minutes * float64(time.Minute)).Round(time.Minute)
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatDate formats a date as "Jan 15 14:05" style
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "---"
	}
	return t.Local().Format("Jan 2 15:04")
}

// FormatJobLine formats a tracked batch job as a single line
// Example: "batch_abc123  completed    48/50 ok  2 failed  Mar 14 09:30  batch_input_..._1.jsonl"
func FormatJobLine(job domain.BatchJob) string {
	status := string(job.Status)
	switch {
	case job.Status == domain.JobCompleted:
		status = SuccessStyle.Render(fmt.Sprintf("%-11s", status))
	case job.Status == domain.JobFailed || job.Status == domain.JobExpired:
		status = ErrorStyle.Render(fmt.Sprintf("%-11s", status))
	default:
		status = fmt.Sprintf("%-11s", status)
	}

	counts := fmt.Sprintf("%d/%d ok", job.RequestCounts.Completed, max(job.RequestCounts.Total, job.RequestCount))
	if job.RequestCounts.Failed > 0 {
		counts += fmt.Sprintf("  %d failed", job.RequestCounts.Failed)
	}
	processed := ""
	if job.Processed {
		processed = "  [retrieved]"
	}

	return fmt.Sprintf("%-32s  %s  %-20s  %s  %s%s",
		job.ID, status, counts, FormatDate(job.CreatedAt), shortPath(job.InputFile), processed)
}

func shortPath(p string) string {
	const limit = 40
	if len(p) <= limit {
		return p
	}
	return "..." + p[len(p)-limit+3:]
}
