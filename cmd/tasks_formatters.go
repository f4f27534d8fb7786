package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"tasktracker/core"

	"github.com/fatih/color"
)

// renderTasksTable displays tasks in a formatted table
func renderTasksTable(w io.Writer, tasks []core.Task) {
	if len(tasks) == 0 {
		warningColor.Fprintln(w, "No tasks found")
		return
	}

	headerColor.Fprintln(w, "TASKS")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-10s %-35s %-10s %-10s %-20s %-15s\n",
		"ID", "Title", "Status", "Priority", "Due", "Created")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, task := range tasks {
		// Short ID (first 8 chars)
		shortID := task.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		due := "-"
		if task.DueDate != nil {
			due = formatTime(*task.DueDate)
		}

		fmt.Fprintf(w, "%-10s %-35s %-10s %-10s %-20s %-15s\n",
			shortID, truncate(task.Title, 34), formatCompletedPlain(task.Completed),
			task.Priority, due, formatTimeSince(task.CreatedAt))
	}

	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%d task(s)\n", len(tasks))
}

// renderTaskDetails displays detailed task information
func renderTaskDetails(w io.Writer, task *core.Task) {
	headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	headerColor.Fprintf(w, "  Task Details: %s\n", task.Title)
	headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	printSection(w, "Basic Information")
	printField(w, "ID", task.ID)
	printField(w, "Title", task.Title)
	printField(w, "Description", task.Description)
	printField(w, "Completed", formatBool(task.Completed))
	printField(w, "Priority", formatPriority(task.Priority))
	fmt.Fprintln(w)

	printSection(w, "Timestamps")
	if task.DueDate != nil {
		printField(w, "Due", formatTime(*task.DueDate))
	}
	printField(w, "Created At", formatTime(task.CreatedAt))
	printField(w, "Updated At", formatTime(task.UpdatedAt))
	fmt.Fprintln(w)
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

// formatPriority returns a colored priority string
func formatPriority(p core.TaskPriority) string {
	switch p {
	case core.PriorityHigh:
		return color.New(color.FgRed).Sprint("high")
	case core.PriorityMedium:
		return color.New(color.FgYellow).Sprint("medium")
	case core.PriorityLow:
		return color.New(color.FgGreen).Sprint("low")
	default:
		return string(p)
	}
}

// formatCompletedPlain returns a plain status string (no color codes)
func formatCompletedPlain(completed bool) string {
	if completed {
		return "done"
	}
	return "open"
}

// formatBool returns a colored boolean string
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatTimeSince formats time as relative duration
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}

	duration := time.Since(t)
	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
}

// truncate shortens s to n runes, marking the cut with "..."
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
