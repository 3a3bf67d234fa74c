package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/cairn/task"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()

	titleCase = cases.Title(language.English)
)

// statusLabel renders a status for humans, e.g. in_progress -> "In Progress".
func statusLabel(s task.Status) string {
	label := titleCase.String(strings.ReplaceAll(string(s), "_", " "))
	switch s {
	case task.StatusCompleted:
		return green(label)
	case task.StatusInProgress:
		return cyan(label)
	case task.StatusBlocked:
		return red(label)
	case task.StatusCancelled:
		return dim(label)
	default:
		return yellow(label)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTasks(w io.Writer, tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, dim("no tasks"))
		return
	}
	fmt.Fprintf(w, "%-36s %-30s %-12s %s\n", bold("ID"), bold("TITLE"), bold("STATUS"), bold("DEPS"))
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, t := range tasks {
		fmt.Fprintf(w, "%-36s %-30s %-12s %d\n",
			t.ID,
			truncate(t.Title, 29),
			statusLabel(t.Status),
			len(t.Dependencies),
		)
	}
}

func printTask(w io.Writer, t *task.Task) {
	fmt.Fprintf(w, "%s  %s\n", bold(t.Title), statusLabel(t.Status))
	fmt.Fprintf(w, "  id:       %s\n", t.ID)
	fmt.Fprintf(w, "  list:     %s\n", t.ListID)
	if t.Priority != "" {
		fmt.Fprintf(w, "  priority: %s\n", titleCase.String(string(t.Priority)))
	}
	if t.EstimatedDuration != nil {
		fmt.Fprintf(w, "  estimate: %dm\n", *t.EstimatedDuration)
	}
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(w, "  depends:  %s\n", strings.Join(t.Dependencies, ", "))
	}
	fmt.Fprintf(w, "  version:  %d\n", t.Version)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
