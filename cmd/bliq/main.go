// Command bliq is an offline-first task manager that imports issues and
// cards from GitHub and Trello and pushes local tasks back.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/bliqhq/bliq/internal/config"
	"github.com/bliqhq/bliq/internal/ui"

	// Providers register themselves with the provider registry.
	_ "github.com/bliqhq/bliq/internal/provider/github"
	_ "github.com/bliqhq/bliq/internal/provider/trello"
)

var (
	configPath string
	dbPath     string
	userFlag   string
	verbose    bool

	loader *config.Loader
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bliq",
	Short: "Offline-first task manager with GitHub and Trello sync",
	Long: `bliq keeps your tasks in a local SQLite database and syncs them with
GitHub issues and Trello cards.

Pulls import new items from the repositories and boards you select; they
never overwrite local edits. Local tasks can be pushed to a service, and
status changes on linked tasks are mirrored back as advisory updates.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(os.Stdout)

		loader = config.NewLoader(configPath)
		v := loader.Viper()
		if err := v.BindPFlag("database.path", cmd.Root().PersistentFlags().Lookup("db")); err != nil {
			return err
		}
		if err := v.BindPFlag("user", cmd.Root().PersistentFlags().Lookup("user")); err != nil {
			return err
		}

		var err error
		cfg, err = loader.Load()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = config.CloseLogs()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default "+config.DefaultPath()+")")
	pf.StringVar(&dbPath, "db", "", "Database path (overrides database.path)")
	pf.StringVarP(&userFlag, "user", "u", "", "User email or id to act as (overrides user)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log sync activity to stderr")
}

// logger returns a component logger. Unless --verbose or log.file is set,
// routine activity is discarded and only the command's own output shows.
func logger(prefix string) *log.Logger {
	if !verbose && cfg.Log.File == "" {
		return log.New(io.Discard, prefix, 0)
	}
	return config.NewLogger(cfg.Log, prefix)
}

// fatal prints an error and exits.
func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), fmt.Sprintf(format, args...))
	_ = config.CloseLogs()
	os.Exit(1)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}

// serviceLogger always records activity, to stderr or log.file.
func serviceLogger(prefix string) *log.Logger {
	return config.NewLogger(cfg.Log, prefix)
}
