package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bliqhq/bliq/internal/api"
	"github.com/bliqhq/bliq/internal/config"
	"github.com/bliqhq/bliq/internal/daemon"
	"github.com/bliqhq/bliq/internal/dashboard"
	"github.com/bliqhq/bliq/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Sync every user on a timer",
	Long: `Run the sync loop in the foreground. Every sync.interval (default 10m)
each user's selected collections are pulled and queued updates retried.

Editing sync.interval in the config file takes effect without a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx, serviceLogger)
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		d, err := newDaemon(a)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Starting sync daemon (every %v)\n", ui.RenderAccent("🚀"), cfg.Sync.Interval)
		fmt.Printf("   Database: %s\n", a.db.Path())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fatal("daemon stopped with error: %v", err)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the HTTP API, live dashboard and sync daemon",
	Long: `Serve the JSON API used by the web UI on server.addr, with live task
and sync events on /ws, while the daemon syncs in the background.

Requests authenticate with HTTP basic auth using a local account.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx, serviceLogger)
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		dash := dashboard.NewServer(&dashboard.Config{
			Host:   cfg.Dashboard.Host,
			Port:   cfg.Dashboard.Port,
			Logger: serviceLogger("[dashboard] "),
		})
		events := dashboard.NewHandler(dash, a.db, serviceLogger("[dashboard] "))
		a.engine.SetNotifier(events)

		srv, err := api.New(api.Deps{
			Users:     a.users,
			Tasks:     a.tasks,
			Sync:      a.engine,
			Registry:  a.registry,
			Dashboard: dash,
			Events:    events,
		}, &api.Config{Addr: cfg.Server.Addr, Logger: serviceLogger("[api] ")})
		if err != nil {
			fatal("%v", err)
		}

		d, err := newDaemon(a)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Serving on http://%s\n", ui.RenderAccent("🚀"), cfg.Server.Addr)
		fmt.Printf("   API:       http://%s/api/v1\n", cfg.Server.Addr)
		fmt.Printf("   WebSocket: ws://%s/ws\n", cfg.Server.Addr)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(gctx) })
		g.Go(func() error { return d.Start(gctx) })
		err = g.Wait()

		if stopErr := dash.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
		if err != nil {
			fatal("%v", err)
		}
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the live WebSocket dashboard with the sync daemon",
	Long: `Start a WebSocket server that broadcasts task and sync events while the
daemon syncs in the background.

WebSocket messages include:
- task_update: task imported, pushed or status changed
- sync_complete: a pull finished, with counts
- stats: task totals for the user

Example usage:
  bliq dashboard                 # Start on dashboard.port (8080)
  bliq dashboard --port 9000     # Start on custom port

The server binds dashboard.host (127.0.0.1 by default). Clients sign in
with HTTP basic auth using a local account and only receive their own
events:
  ws://ada%40example.com:<password>@localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx, serviceLogger)
		if err != nil {
			fatal("%v", err)
		}
		defer a.Close()

		server := dashboard.NewServer(&dashboard.Config{
			Host:         cfg.Dashboard.Host,
			Port:         port,
			Authenticate: dashboardAuth(a),
			Logger:       serviceLogger("[dashboard] "),
		})
		a.engine.SetNotifier(dashboard.NewHandler(server, a.db, serviceLogger("[dashboard] ")))

		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws (basic auth)\n", server.GetAddr())
		fmt.Printf("Health check: http://%s/health\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		d, err := newDaemon(a)
		if err != nil {
			fatal("%v", err)
		}
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
		}

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatal("during shutdown: %v", err)
		}
		fmt.Println("Dashboard server stopped")
	},
}

// dashboardAuth checks dashboard clients against local accounts.
func dashboardAuth(a *app) dashboard.Authenticator {
	return dashboard.BasicAuth(func(ctx context.Context, email, password string) (string, error) {
		u, err := a.users.Authenticate(ctx, email, password)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	})
}

// newDaemon builds a daemon over the app's engine. When the config file
// exists it is watched and sync.interval is re-read on change.
func newDaemon(a *app) (*daemon.Daemon, error) {
	dc := daemon.DefaultConfig()
	dc.SyncInterval = cfg.Sync.Interval
	dc.Logger = serviceLogger("[daemon] ")

	path := loader.Path()
	if _, err := os.Stat(path); err == nil {
		dc.ConfigFile = path
		dc.Reload = func() (time.Duration, error) {
			next, err := config.NewLoader(path).Load()
			if err != nil {
				return 0, err
			}
			return next.Sync.Interval, nil
		}
	}
	return daemon.NewWithConfig(a.engine, a.db, dc)
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (overrides dashboard.port)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dashboardCmd)
}
