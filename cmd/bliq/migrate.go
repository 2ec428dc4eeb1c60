package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bliqhq/bliq/internal/migrate"
	"github.com/bliqhq/bliq/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "advanced",
	Short:   "Back up the current user's tasks",
	Long: `Write every task of the current user as JSON Lines (one task per line),
or as a YAML snapshot with --format yaml. Without a file the export goes to
stdout. Files are written atomically.

Only JSON Lines exports can be restored with 'bliq import'.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("format")
		format = strings.ToLower(format)
		if format != "jsonl" && format != "yaml" {
			fatal("unknown format %q (want jsonl or yaml)", format)
		}

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		var (
			n   int
			err error
		)
		switch {
		case len(args) == 0 && format == "yaml":
			n, err = migrate.ExportYAML(ctx, a.db, u.ID, os.Stdout)
		case len(args) == 0:
			n, err = migrate.ExportJSONL(ctx, a.db, u.ID, os.Stdout)
		case format == "yaml":
			n, err = migrate.ExportYAMLFile(ctx, a.db, u.ID, args[0])
		default:
			n, err = migrate.ExportJSONLFile(ctx, a.db, u.ID, args[0])
		}
		if err != nil {
			fatal("%v", err)
		}
		if len(args) == 1 {
			fmt.Printf("%s Exported %d task(s) to %s\n", ui.RenderPass("✓"), n, args[0])
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Restore tasks from a JSON Lines export",
	Long: `Import tasks into the current user's database. Tasks whose id already
exists, or that duplicate an imported GitHub or Trello item, are skipped,
so importing the same file twice is harmless.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a := mustOpen(ctx)
		defer a.Close()
		u := a.mustUser(ctx)

		res, err := migrate.ImportJSONL(ctx, a.db, args[0], migrate.ImportOptions{UserID: u.ID, DryRun: dryRun})
		if err != nil {
			fatal("%v", err)
		}
		for _, e := range res.Errors {
			fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), e)
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d of %d task(s): %d skipped, %d invalid\n",
			ui.RenderPass("✓"), verb, res.Imported, res.Read, res.Skipped, res.Invalid)
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "jsonl", "Output format: jsonl or yaml")
	importCmd.Flags().Bool("dry-run", false, "Validate and count without writing")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
