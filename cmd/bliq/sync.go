package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/types"
	"github.com/bliqhq/bliq/internal/ui"
)

var connectCmd = &cobra.Command{
	Use:     "connect <github|trello>",
	GroupID: "sync",
	Short:   "Connect a GitHub or Trello account",
	Long: `Validate an access token and store it for the current user.

GitHub takes a personal access token with repo scope. Trello takes a user
token issued for the application key in trello.api_key.

The token is prompted for on a terminal, otherwise taken from --token or
the first line of stdin. A rejected token is never stored.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		svc, err := types.ParseService(args[0])
		if err != nil {
			fatal("%v", err)
		}

		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token, err = promptSecret(fmt.Sprintf("%s access token", svc))
			if err != nil {
				fatal("%v", err)
			}
		}

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		in, err := a.engine.Connect(ctx, u.ID, svc, token)
		if err != nil {
			if errors.Is(err, provider.ErrUnauthorized) {
				fatal("%s rejected the token; nothing was saved", svc)
			}
			fatal("%v", err)
		}
		fmt.Printf("%s Connected %s as %s\n", ui.RenderPass("✓"), svc, in.Metadata["username"])
		if len(in.SelectedRepos) == 0 {
			fmt.Printf("Next: pick what to sync with 'bliq collections select %s'\n", svc)
		}
	},
}

var disconnectCmd = &cobra.Command{
	Use:     "disconnect <github|trello>",
	GroupID: "sync",
	Short:   "Forget a connected account",
	Long:    `Remove the stored token and selection. Imported tasks stay.`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		svc, err := types.ParseService(args[0])
		if err != nil {
			fatal("%v", err)
		}
		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		if err := a.registry.Disconnect(ctx, u.ID, svc); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Disconnected %s\n", ui.RenderPass("✓"), svc)
	},
}

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	GroupID: "sync",
	Short:   "List or select repositories and boards to sync",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list <github|trello>",
	Short: "List the repositories or boards the token can see",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		svc, err := types.ParseService(args[0])
		if err != nil {
			fatal("%v", err)
		}
		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		available, err := a.engine.ListCollections(ctx, u.ID, svc)
		if err != nil {
			fatal("%v", err)
		}
		selected, err := a.registry.Selected(ctx, u.ID, svc)
		if err != nil {
			fatal("%v", err)
		}
		chosen := make(map[string]bool, len(selected))
		for _, c := range selected {
			chosen[c.ID] = true
		}

		for _, c := range available {
			mark := ui.RenderMuted("○")
			if chosen[c.ID] {
				mark = ui.RenderPass("●")
			}
			fmt.Printf("%s %-40s %s\n", mark, c.FullName, ui.RenderMuted(c.ID))
		}
	},
}

var collectionsSelectCmd = &cobra.Command{
	Use:   "select <github|trello> [id or full name...]",
	Short: "Choose which repositories or boards to sync",
	Long: `Replace the selection. Collections may be given by id or full name
("acme/api"). With no names on a terminal, a picker is shown.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		svc, err := types.ParseService(args[0])
		if err != nil {
			fatal("%v", err)
		}
		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		ids := args[1:]
		if len(ids) == 0 {
			if !interactive() {
				fatal("name at least one collection (see 'bliq collections list %s')", svc)
			}
			available, err := a.engine.ListCollections(ctx, u.ID, svc)
			if err != nil {
				fatal("%v", err)
			}
			selected, err := a.registry.Selected(ctx, u.ID, svc)
			if err != nil {
				fatal("%v", err)
			}
			chosen := make(map[string]bool, len(selected))
			for _, c := range selected {
				chosen[c.ID] = true
			}
			ids, err = promptCollections(fmt.Sprintf("Sync which %s collections?", svc), available, chosen)
			if err != nil {
				fatal("%v", err)
			}
		}

		in, err := a.engine.SelectCollections(ctx, u.ID, svc, ids)
		if err != nil {
			fatal("%v", err)
		}
		names := make([]string, 0, len(in.SelectedRepos))
		for _, c := range in.SelectedRepos {
			names = append(names, c.FullName)
		}
		fmt.Printf("%s Syncing %d %s collection(s): %s\n", ui.RenderPass("✓"), len(names), svc, strings.Join(names, ", "))
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull new items and retry queued updates",
	Long: `Import new issues and cards from every selected repository and board,
then retry status updates that could not be delivered earlier.

Existing tasks are never modified by a pull. A failing collection is
reported and skipped; the rest still sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), u.Email)
		start := time.Now()

		res, err := a.engine.Pull(ctx, u.ID)
		if err != nil {
			fatal("%v", err)
		}
		for _, c := range res.Collections {
			fmt.Printf("   %-8s %-30s %d new, %d known, %d excluded\n",
				c.Service, c.Name, c.Inserted, c.Skipped, c.Excluded)
		}
		for _, f := range res.Failures {
			fmt.Printf("%s %s %s: %s\n", ui.RenderWarn("⚠"), f.Service, f.Collection, f.Err)
		}
		for _, svc := range res.CredentialFailures() {
			fmt.Printf("%s Reconnect %s: 'bliq connect %s'\n", ui.RenderWarn("⚠"), svc, svc)
		}

		drain, err := a.engine.DrainQueue(ctx, u.ID)
		if err != nil {
			fatal("%v", err)
		}
		if drain.Completed+drain.Pending+drain.Dropped > 0 {
			fmt.Printf("   queue: %d delivered, %d pending, %d dropped\n", drain.Completed, drain.Pending, drain.Dropped)
		}

		fmt.Printf("%s Sync complete in %v: %d imported\n",
			ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond), res.Inserted)
	},
}

var pushCmd = &cobra.Command{
	Use:     "push <task-id>",
	GroupID: "sync",
	Short:   "Create a GitHub issue or Trello card from a local task",
	Example: `  bliq push 1a2b3c4d --service github --collection acme/api
  bliq push 1a2b3c4d --service trello --collection 5f1e...`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		service, _ := cmd.Flags().GetString("service")
		collection, _ := cmd.Flags().GetString("collection")

		svc, err := types.ParseService(service)
		if err != nil {
			fatal("%v", err)
		}
		if collection == "" {
			fatal("--collection is required")
		}

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		t, err := a.resolveTask(ctx, u.ID, args[0])
		if err != nil {
			fatal("%v", err)
		}
		res, err := a.engine.Push(ctx, t.ID, svc, collection)
		if err != nil {
			fatal("%v", err)
		}
		if res.NoOp {
			fmt.Printf("%s %s is already linked to %s\n", ui.RenderMuted("•"), ui.ShortID(t.ID), res.Task.Source)
			return
		}
		fmt.Printf("%s Pushed %s to %s as #%s\n", ui.RenderPass("✓"), ui.ShortID(t.ID), svc, res.Task.SourceRef)
		if res.URL != "" {
			fmt.Printf("   %s\n", res.URL)
		}
	},
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect or retry undelivered status updates",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued updates",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		entries, err := a.db.QueueByUser(ctx, u.ID)
		if err != nil {
			fatal("%v", err)
		}
		if len(entries) == 0 {
			fmt.Println("Queue is empty.")
			return
		}
		for _, e := range entries {
			fmt.Printf("%s  %-6s %s %s  attempts=%d  %s\n",
				ui.RenderMuted(ui.ShortID(e.ID)), e.Action, e.EntityType, ui.ShortID(e.EntityID),
				e.Attempts, e.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Retry queued updates now",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		res, err := a.engine.DrainQueue(ctx, u.ID)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s %d delivered, %d pending, %d dropped\n", ui.RenderPass("✓"), res.Completed, res.Pending, res.Dropped)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show task counts and connected services",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		stats, err := a.db.Stats(ctx, u.ID)
		if err != nil {
			fatal("%v", err)
		}
		integrations, err := a.registry.List(ctx, u.ID)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📊"), u.Email)
		fmt.Printf("Tasks: %d\n", stats.Total)
		for _, st := range []types.Status{types.StatusTodo, types.StatusInProgress, types.StatusDone} {
			fmt.Printf("  %-12s %d\n", ui.RenderStatus(st), stats.ByStatus[st])
		}

		sources := make([]string, 0, len(stats.BySource))
		for src := range stats.BySource {
			sources = append(sources, string(src))
		}
		sort.Strings(sources)
		fmt.Println("By source:")
		for _, src := range sources {
			fmt.Printf("  %-12s %d\n", src, stats.BySource[types.Source(src)])
		}

		fmt.Println("\nConnections:")
		if len(integrations) == 0 {
			fmt.Println("  none")
		}
		for _, in := range integrations {
			fmt.Printf("  %-8s %-20s %d collection(s)\n", in.Service, in.Metadata["username"], len(in.SelectedRepos))
		}
		if stats.Queued > 0 {
			fmt.Printf("\n%s %d update(s) waiting to be delivered\n", ui.RenderWarn("⚠"), stats.Queued)
		}
		fmt.Println()
	},
}

func init() {
	connectCmd.Flags().String("token", "", "Access token (skips the prompt)")
	pushCmd.Flags().String("service", "", "github or trello (required)")
	pushCmd.Flags().String("collection", "", "Repository or board id or full name (required)")
	_ = pushCmd.MarkFlagRequired("service")

	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsSelectCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDrainCmd)

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(statusCmd)
}
