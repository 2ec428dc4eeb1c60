package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/tasks"
	"github.com/bliqhq/bliq/internal/types"
	"github.com/bliqhq/bliq/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"t"},
	GroupID: "tasks",
	Short:   "Create, list and edit tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a local task",
	Example: `  bliq task add "Write release notes" --priority high --tag docs
  bliq task add "Design review" -d "## Notes" --markdown`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		f := cmd.Flags()
		desc, _ := f.GetString("description")
		markdown, _ := f.GetBool("markdown")
		prio, _ := f.GetString("priority")
		tags, _ := f.GetStringSlice("tag")

		priority, err := types.ParsePriority(prio)
		if err != nil {
			fatal("%v", err)
		}

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		t, err := a.tasks.Create(ctx, u.ID, tasks.NewTask{
			Title:       strings.Join(args, " "),
			Description: desc,
			IsMarkdown:  markdown,
			Priority:    priority,
			Tags:        tags,
		})
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Created %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(ui.ShortID(t.ID)), t.Title)
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Example: `  bliq task list --status todo
  bliq task list --source github --since "last monday"
  bliq task list --json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		f := cmd.Flags()
		status, _ := f.GetString("status")
		source, _ := f.GetString("source")
		tag, _ := f.GetString("tag")
		since, _ := f.GetString("since")
		query, _ := f.GetString("query")
		asJSON, _ := f.GetBool("json")

		filter := tasks.Filter{Tag: tag, Query: query}
		if status != "" {
			st, err := types.ParseStatus(status)
			if err != nil {
				fatal("%v", err)
			}
			filter.Status = st
		}
		if source != "" {
			src := types.Source(strings.ToLower(source))
			if !src.IsValid() {
				fatal("invalid source %q (want local, github or trello)", source)
			}
			filter.Source = src
		}
		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				fatal("%v", err)
			}
			filter.Since = t
		}

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		list, err := a.tasks.List(ctx, u.ID, filter)
		if err != nil {
			fatal("%v", err)
		}
		if asJSON {
			printJSON(list)
			return
		}
		if len(list) == 0 {
			fmt.Println("No tasks.")
			return
		}
		fmt.Println(ui.TaskTable(list))
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task with its comments",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		t, err := a.resolveTask(ctx, u.ID, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if asJSON {
			printJSON(t)
			return
		}
		ui.PrintTask(os.Stdout, t)
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a task's fields",
	Long: `Edit a task. Only the flags you pass are changed. A --status change on a
linked task is also sent to GitHub or Trello.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		f := cmd.Flags()

		var upd tasks.Update
		if f.Changed("title") {
			v, _ := f.GetString("title")
			upd.Title = &v
		}
		if f.Changed("description") {
			v, _ := f.GetString("description")
			upd.Description = &v
		}
		if f.Changed("markdown") {
			v, _ := f.GetBool("markdown")
			upd.IsMarkdown = &v
		}
		if f.Changed("priority") {
			v, _ := f.GetString("priority")
			p, err := types.ParsePriority(v)
			if err != nil {
				fatal("%v", err)
			}
			upd.Priority = &p
		}
		if f.Changed("status") {
			v, _ := f.GetString("status")
			st, err := types.ParseStatus(v)
			if err != nil {
				fatal("%v", err)
			}
			upd.Status = &st
		}
		if f.Changed("tag") {
			upd.Tags, _ = f.GetStringSlice("tag")
			if upd.Tags == nil {
				upd.Tags = []string{}
			}
		}

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		t, err := a.resolveTask(ctx, u.ID, args[0])
		if err != nil {
			fatal("%v", err)
		}
		res, err := a.tasks.Update(ctx, u.ID, t.ID, upd)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), ui.RenderAccent(ui.ShortID(res.Task.ID)))
		if res.Status != nil {
			printStatusResult(res.Status)
		}
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <id> <todo|in-progress|done>",
	Short: "Change a task's status",
	Long: `Change a task's status. The local change always stands; for tasks linked
to GitHub or Trello the item is updated and a comment is posted. Steps
that fail are queued and retried by 'bliq sync' and the daemon.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		st, err := types.ParseStatus(args[1])
		if err != nil {
			fatal("%v", err)
		}

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		t, err := a.resolveTask(ctx, u.ID, args[0])
		if err != nil {
			fatal("%v", err)
		}
		res, err := a.engine.ChangeStatus(ctx, t.ID, st)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s %s is now %s\n", ui.RenderPass("✓"), ui.RenderAccent(ui.ShortID(t.ID)), ui.RenderStatus(res.Task.Status))
		printStatusResult(res)
	},
}

var taskRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a task locally",
	Long:    `Delete a task from the local database. Linked GitHub issues and Trello cards are not touched.`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		t, err := a.resolveTask(ctx, u.ID, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if !yes && !confirm(fmt.Sprintf("Delete %q?", t.Title), true) {
			fmt.Println("Cancelled.")
			return
		}
		if err := a.tasks.Delete(ctx, u.ID, t.ID); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), ui.ShortID(t.ID))
	},
}

var taskCommentCmd = &cobra.Command{
	Use:   "comment <id> <text>",
	Short: "Add a comment to a task",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		t, err := a.resolveTask(ctx, u.ID, args[0])
		if err != nil {
			fatal("%v", err)
		}
		if _, err := a.tasks.Comment(ctx, u.ID, t.ID, u.Name, strings.Join(args[1:], " ")); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Commented on %s\n", ui.RenderPass("✓"), ui.ShortID(t.ID))
	},
}

func printStatusResult(res *sync.StatusResult) {
	for _, w := range res.Warnings {
		fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), w)
	}
	if res.QueuedID != "" {
		fmt.Printf("%s Unfinished steps queued for retry (%s)\n", ui.RenderWarn("⚠"), ui.ShortID(res.QueuedID))
	}
	if res.Propagated {
		fmt.Printf("%s Sent to %s\n", ui.RenderPass("✓"), res.Task.Source)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("%v", err)
	}
}

func init() {
	taskAddCmd.Flags().StringP("description", "d", "", "Task description")
	taskAddCmd.Flags().Bool("markdown", false, "Description is Markdown")
	taskAddCmd.Flags().StringP("priority", "p", string(types.PriorityMedium), "Priority: low, medium or high")
	taskAddCmd.Flags().StringSliceP("tag", "t", nil, "Tag (repeatable)")

	taskListCmd.Flags().StringP("status", "s", "", "Filter by status")
	taskListCmd.Flags().String("source", "", "Filter by source: local, github or trello")
	taskListCmd.Flags().StringP("tag", "t", "", "Filter by tag")
	taskListCmd.Flags().String("since", "", `Only tasks updated since (e.g. "2025-01-02", "48h", "last monday")`)
	taskListCmd.Flags().StringP("query", "q", "", "Match title or description")
	taskListCmd.Flags().Bool("json", false, "Output JSON")

	taskShowCmd.Flags().Bool("json", false, "Output JSON")

	taskEditCmd.Flags().String("title", "", "New title")
	taskEditCmd.Flags().StringP("description", "d", "", "New description")
	taskEditCmd.Flags().Bool("markdown", false, "Description is Markdown")
	taskEditCmd.Flags().StringP("priority", "p", "", "New priority")
	taskEditCmd.Flags().StringP("status", "s", "", "New status")
	taskEditCmd.Flags().StringSliceP("tag", "t", nil, "Replace tags (repeatable; empty clears)")

	taskRmCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskEditCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskRmCmd)
	taskCmd.AddCommand(taskCommentCmd)
	rootCmd.AddCommand(taskCmd)
}
