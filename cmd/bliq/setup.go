package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bliqhq/bliq/internal/config"
	"github.com/bliqhq/bliq/internal/storage/sqlite"
	"github.com/bliqhq/bliq/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create the config file and database",
	Long: `Write a default config file (unless one exists) and create the SQLite
database with its schema.

Example:
  bliq init
  bliq user add ada@example.com`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := loader.Path()
		if _, err := os.Stat(path); err == nil && !force {
			fmt.Printf("%s Config already exists: %s\n", ui.RenderMuted("•"), path)
		} else {
			if err := config.WriteDefault(path, force); err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s Wrote config: %s\n", ui.RenderPass("✓"), path)
		}

		db, err := sqlite.OpenAndInit(cmd.Context(), cfg.Database.Path)
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()
		fmt.Printf("%s Database ready: %s\n", ui.RenderPass("✓"), db.Path())
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Show or create the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	Long: `Print the merged configuration: defaults, the config file, BLIQ_*
environment variables and flags.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("# %s\n", loader.Path())
		if err := loader.WriteTOML(os.Stdout); err != nil {
			fatal("%v", err)
		}
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteDefault(loader.Path(), force); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Wrote config: %s\n", ui.RenderPass("✓"), loader.Path())
	},
}

var userCmd = &cobra.Command{
	Use:     "user",
	GroupID: "setup",
	Short:   "Manage local accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Create a local account",
	Long: `Create a local account. The password is prompted for on a terminal,
otherwise read from the first line of stdin.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")

		password, err := promptPassword()
		if err != nil {
			fatal("%v", err)
		}

		a := mustOpen(ctx)
		defer a.Close()

		u, err := a.users.Create(ctx, args[0], name, password)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Created user %s (%s)\n", ui.RenderPass("✓"), u.Email, ui.RenderMuted(u.ID))
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local accounts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpen(ctx)
		defer a.Close()

		all, err := a.users.List(ctx)
		if err != nil {
			fatal("%v", err)
		}
		if len(all) == 0 {
			fmt.Println("No users.")
			return
		}
		for _, u := range all {
			fmt.Printf("%s  %-30s %s\n", ui.RenderMuted(u.ID), u.Email, u.Name)
		}
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	userAddCmd.Flags().String("name", "", "Display name (defaults to the email's local part)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(userCmd)
}
