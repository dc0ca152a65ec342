package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/Sternrassler/taskflow-client/pkg/cache"
	"github.com/Sternrassler/taskflow-client/pkg/metrics"
	"github.com/Sternrassler/taskflow-client/pkg/taskflow"
)

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func printTaskTable(w io.Writer, tasks []taskflow.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tPRIORITY\tDUE\tTAGS")
	for _, t := range tasks {
		title := t.Title
		if t.IsDeleted {
			title += " (deleted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, truncate(title, 48), t.Status, t.Priority, dash(t.DueDate), strings.Join(t.Tags, ","))
	}
	tw.Flush()
}

func printTask(w io.Writer, t *taskflow.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", t.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", t.Title)
	fmt.Fprintf(tw, "Status:\t%s\n", t.Status)
	fmt.Fprintf(tw, "Priority:\t%s\n", t.Priority)
	if t.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", t.Description)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(tw, "Tags:\t%s\n", strings.Join(t.Tags, ", "))
	}
	fmt.Fprintf(tw, "Due:\t%s\n", dash(t.DueDate))
	if t.CompletedAt != "" {
		fmt.Fprintf(tw, "Completed:\t%s\n", t.CompletedAt)
	}
	if t.IsDeleted {
		fmt.Fprintf(tw, "Deleted:\t%s\n", dash(t.DeletedAt))
	}
	fmt.Fprintf(tw, "Created:\t%s\n", t.CreatedAt)
	fmt.Fprintf(tw, "Updated:\t%s\n", t.UpdatedAt)
	tw.Flush()
}

func printStats(w io.Writer, st *taskflow.TaskStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", st.TotalTasks)
	fmt.Fprintf(tw, "Active:\t%d\n", st.ActiveTasks)
	fmt.Fprintf(tw, "Completed:\t%d\n", st.CompletedTasks)
	fmt.Fprintf(tw, "Deleted:\t%d\n", st.DeletedTasks)
	fmt.Fprintf(tw, "Completion rate:\t%.1f%%\n", st.CompletionRate)
	for _, line := range distribution("Status", st.StatusDistribution) {
		fmt.Fprintln(tw, line)
	}
	for _, line := range distribution("Priority", st.PriorityDistribution) {
		fmt.Fprintln(tw, line)
	}
	tw.Flush()
}

func distribution(label string, counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s %s:\t%d", label, k, counts[k]))
	}
	return lines
}

func printCacheStats(w io.Writer, stats map[string]cache.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tTOTAL\tVALID\tEXPIRED\tSIZE")
	for _, c := range cache.Categories() {
		st := stats[c.Name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", c.Name, st.Total, st.Valid, st.Expired, st.Size())
	}
	tw.Flush()
}

func printMetrics(w io.Writer, samples []metrics.Sample) {
	if len(samples) == 0 {
		fmt.Fprintln(w, "No metrics recorded.")
		return
	}
	for _, s := range samples {
		if s.Type == "histogram" || s.Type == "summary" {
			fmt.Fprintf(w, "%s count=%d sum=%g\n", s.Series(), s.Count, s.Value)
			continue
		}
		fmt.Fprintf(w, "%s %g\n", s.Series(), s.Value)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
