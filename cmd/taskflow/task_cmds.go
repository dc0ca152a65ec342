package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/taskflow-client/pkg/envelope"
	"github.com/Sternrassler/taskflow-client/pkg/taskflow"
)

func (c *cli) tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Manage tasks",
	}
	cmd.AddCommand(
		c.tasksListCmd(),
		c.tasksGetCmd(),
		c.tasksCreateCmd(),
		c.tasksUpdateCmd(),
		c.tasksDeleteCmd(),
		c.tasksRestoreCmd(),
		c.tasksSearchCmd(),
		c.tasksStatsCmd(),
	)
	return cmd
}

// filterFlags are the list filters shared by list and search.
type filterFlags struct {
	status         string
	priority       string
	tags           string
	ordering       string
	includeDeleted bool
	page           int
	pageSize       int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.status, "status", "", "filter by status (pending, in_progress, completed, cancelled)")
	cmd.Flags().StringVar(&f.priority, "priority", "", "filter by priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&f.tags, "tags", "", "comma-separated tags")
	cmd.Flags().StringVar(&f.ordering, "ordering", "", "sort field, prefix with - for descending (e.g. -created_at)")
	cmd.Flags().BoolVar(&f.includeDeleted, "include-deleted", false, "include tasks in the trash")
	cmd.Flags().IntVar(&f.page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 20, "results per page")
}

func (f *filterFlags) params() (taskflow.SearchParams, error) {
	p := taskflow.SearchParams{
		Status:         taskflow.TaskStatus(f.status),
		Priority:       taskflow.TaskPriority(f.priority),
		Tags:           splitTags(f.tags),
		Ordering:       f.ordering,
		IncludeDeleted: f.includeDeleted,
		Page:           f.page,
		PageSize:       f.pageSize,
	}
	if p.Status != "" && !p.Status.Valid() {
		return p, invalid("unknown status %q", f.status)
	}
	if p.Priority != "" && !p.Priority.Valid() {
		return p, invalid("unknown priority %q", f.priority)
	}
	return p, nil
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (c *cli) printPage(a *app, page *taskflow.Page[taskflow.Task]) error {
	if c.jsonOutput {
		return printJSON(a.out, page)
	}
	printTaskTable(a.out, page.Results)
	p := page.Pagination
	fmt.Fprintf(a.out, "\nPage %d of %d (%d tasks)", p.Page, p.TotalPages, p.TotalCount)
	switch {
	case page.Stale:
		fmt.Fprint(a.out, " [offline, cached data]")
	case page.FromCache:
		fmt.Fprint(a.out, " [cached]")
	}
	fmt.Fprintln(a.out)
	return nil
}

func (c *cli) tasksListCmd() *cobra.Command {
	var (
		filters filterFlags
		search  string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long: `List tasks, one page at a time. Pages are cached for five minutes.

Example:
  taskflow tasks list
  taskflow tasks list --status pending --priority high
  taskflow tasks list --all --json`,
		Args: cobra.NoArgs,
	}
	filters.register(cmd)
	cmd.Flags().StringVar(&search, "search", "", "filter by text in title or description")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every page")

	cmd.RunE = c.run(func(ctx context.Context, a *app) error {
		params, err := filters.params()
		if err != nil {
			return err
		}
		params.Search = search

		if all {
			tasks, err := a.svc.AllTasks(ctx, params)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(a.out, tasks)
			}
			printTaskTable(a.out, tasks)
			return nil
		}

		page, err := a.svc.ListTasks(ctx, params)
		if err != nil {
			return err
		}
		return c.printPage(a, page)
	})
	return cmd
}

func (c *cli) tasksGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, a *app) error {
			t, err := a.svc.GetTask(ctx, envelope.ID(args[0]))
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(a.out, t)
			}
			printTask(a.out, t)
			return nil
		})(cmd, args)
	}
	return cmd
}

func (c *cli) tasksCreateCmd() *cobra.Command {
	var (
		in   taskflow.TaskCreate
		tags string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Long: `Create a task.

Example:
  taskflow tasks create --title "Write report" --priority high --due 2024-06-01 --tags work,q2`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "task title (required)")
	cmd.Flags().StringVar(&in.Description, "description", "", "task description")
	cmd.Flags().StringVar((*string)(&in.Status), "status", "", "initial status")
	cmd.Flags().StringVar((*string)(&in.Priority), "priority", "", "priority")
	cmd.Flags().StringVar(&in.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")

	cmd.RunE = c.run(func(ctx context.Context, a *app) error {
		if strings.TrimSpace(in.Title) == "" {
			return invalid("--title is required")
		}
		if in.Status != "" && !in.Status.Valid() {
			return invalid("unknown status %q", in.Status)
		}
		if in.Priority != "" && !in.Priority.Valid() {
			return invalid("unknown priority %q", in.Priority)
		}
		in.Tags = splitTags(tags)

		t, err := a.svc.CreateTask(ctx, in)
		if err != nil {
			return err
		}
		if c.jsonOutput {
			return printJSON(a.out, t)
		}
		fmt.Fprintf(a.out, "Created task %s: %s\n", t.ID, t.Title)
		return nil
	})
	return cmd
}

func (c *cli) tasksUpdateCmd() *cobra.Command {
	var title, description, status, priority, due, tags string

	cmd := &cobra.Command{
		Use:   "update <id>...",
		Short: "Update one or more tasks",
		Long: `Update tasks. Only the flags given are changed. Several ids apply the
same change to every task.

Example:
  taskflow tasks update 12 --status completed
  taskflow tasks update 3 4 5 --priority urgent`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&due, "due", "", "new due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&tags, "tags", "", "replace tags (comma-separated)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, a *app) error {
			var in taskflow.TaskUpdate
			changed := false
			if cmd.Flags().Changed("title") {
				in.Title, changed = &title, true
			}
			if cmd.Flags().Changed("description") {
				in.Description, changed = &description, true
			}
			if cmd.Flags().Changed("status") {
				s := taskflow.TaskStatus(status)
				if !s.Valid() {
					return invalid("unknown status %q", status)
				}
				in.Status, changed = &s, true
			}
			if cmd.Flags().Changed("priority") {
				p := taskflow.TaskPriority(priority)
				if !p.Valid() {
					return invalid("unknown priority %q", priority)
				}
				in.Priority, changed = &p, true
			}
			if cmd.Flags().Changed("due") {
				in.DueDate, changed = &due, true
			}
			if cmd.Flags().Changed("tags") {
				t := splitTags(tags)
				if t == nil {
					t = []string{}
				}
				in.Tags, changed = &t, true
			}
			if !changed {
				return invalid("nothing to update; pass at least one field flag")
			}

			tasks, err := a.svc.BatchUpdate(ctx, ids(args), in)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(a.out, tasks)
			}
			for _, t := range tasks {
				fmt.Fprintf(a.out, "Updated task %s: %s [%s]\n", t.ID, t.Title, t.Status)
			}
			return nil
		})(cmd, args)
	}
	return cmd
}

func (c *cli) tasksDeleteCmd() *cobra.Command {
	var permanent bool

	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Move tasks to the trash",
		Long: `Move tasks to the trash. Trashed tasks can be restored; --permanent
removes a task for good.`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().BoolVar(&permanent, "permanent", false, "delete permanently")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, a *app) error {
			if permanent {
				for _, id := range ids(args) {
					if err := a.svc.PermanentDeleteTask(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "Permanently deleted task %s\n", id)
				}
				return nil
			}

			if err := a.svc.BatchDelete(ctx, ids(args)); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Moved %d task(s) to the trash\n", len(args))
			return nil
		})(cmd, args)
	}
	return cmd
}

func (c *cli) tasksRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a task from the trash",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, a *app) error {
			t, err := a.svc.RestoreTask(ctx, envelope.ID(args[0]))
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(a.out, t)
			}
			fmt.Fprintf(a.out, "Restored task %s: %s\n", t.ID, t.Title)
			return nil
		})(cmd, args)
	}
	return cmd
}

func (c *cli) tasksSearchCmd() *cobra.Command {
	var (
		filters filterFlags
		history bool
		forget  bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search tasks",
		Long: `Search tasks by text. Queries are remembered; --history lists the ten
most recent ones.

Example:
  taskflow tasks search "quarterly report"
  taskflow tasks search --history`,
		Args: cobra.MaximumNArgs(1),
	}
	filters.register(cmd)
	cmd.Flags().BoolVar(&history, "history", false, "show recent queries")
	cmd.Flags().BoolVar(&forget, "clear-history", false, "forget recent queries")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, a *app) error {
			switch {
			case forget:
				a.svc.ClearSearchHistory(ctx)
				fmt.Fprintln(a.out, "Search history cleared.")
				return nil
			case history:
				recent := a.svc.SearchHistory(ctx)
				if c.jsonOutput {
					return printJSON(a.out, recent)
				}
				for _, q := range recent {
					fmt.Fprintln(a.out, q)
				}
				return nil
			}

			if len(args) == 0 {
				return invalid("a search query is required")
			}
			params, err := filters.params()
			if err != nil {
				return err
			}
			page, err := a.svc.SearchTasks(ctx, args[0], params)
			if err != nil {
				return err
			}
			return c.printPage(a, page)
		})(cmd, args)
	}
	return cmd
}

func (c *cli) tasksStatsCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show task statistics",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the statistics cache")

	cmd.RunE = c.run(func(ctx context.Context, a *app) error {
		st, err := a.svc.Stats(ctx, refresh)
		if err != nil {
			return err
		}
		if c.jsonOutput {
			return printJSON(a.out, st)
		}
		printStats(a.out, st)
		return nil
	})
	return cmd
}

func ids(args []string) []envelope.ID {
	out := make([]envelope.ID, len(args))
	for i, a := range args {
		out[i] = envelope.ID(a)
	}
	return out
}
