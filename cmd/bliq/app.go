package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bliqhq/bliq/internal/config"
	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/registry"
	"github.com/bliqhq/bliq/internal/storage/sqlite"
	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/tasks"
	"github.com/bliqhq/bliq/internal/types"
	"github.com/bliqhq/bliq/internal/users"
)

// app bundles the services a command needs.
type app struct {
	db       *sqlite.DB
	registry *registry.Registry
	engine   *sync.Engine
	users    *users.Service
	tasks    *tasks.Service
}

// openApp opens the database and wires the services. newLogger builds the
// component loggers: commands pass logger, long-running ones
// serviceLogger so activity is always recorded.
func openApp(ctx context.Context, newLogger func(prefix string) *log.Logger) (*app, error) {
	db, err := sqlite.OpenAndInit(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	set, err := provider.NewSet(providerOptions(cfg, newLogger))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	reg := registry.New(db)
	engine := sync.New(sync.Config{
		Store:       db,
		Registry:    reg,
		Providers:   set,
		Logger:      newLogger("[sync] "),
		CallTimeout: cfg.Sync.CallTimeout,
		MaxAttempts: cfg.Sync.MaxAttempts,
	})

	return &app{
		db:       db,
		registry: reg,
		engine:   engine,
		users:    users.New(db),
		tasks:    tasks.New(db, engine),
	}, nil
}

func providerOptions(c *config.Config, newLogger func(prefix string) *log.Logger) map[types.Service]provider.Options {
	return map[types.Service]provider.Options{
		types.ServiceGitHub: {
			BaseURL: c.GitHub.APIURL,
			Timeout: c.Sync.CallTimeout,
			Logger:  newLogger("[github] "),
		},
		types.ServiceTrello: {
			BaseURL: c.Trello.APIURL,
			APIKey:  c.Trello.APIKey,
			Timeout: c.Sync.CallTimeout,
			Logger:  newLogger("[trello] "),
		},
	}
}

func (a *app) Close() error {
	return a.db.Close()
}

// mustOpen is openApp for short-lived commands.
func mustOpen(ctx context.Context) *app {
	a, err := openApp(ctx, logger)
	if err != nil {
		fatal("%v", err)
	}
	return a
}

// currentUser resolves --user (or the configured user). With exactly one
// account in the database it is used without asking.
func (a *app) currentUser(ctx context.Context) (*types.User, error) {
	if cfg.User != "" {
		return a.users.Resolve(ctx, cfg.User)
	}
	all, err := a.users.List(ctx)
	if err != nil {
		return nil, err
	}
	switch len(all) {
	case 0:
		return nil, fmt.Errorf("no users yet; create one with 'bliq user add <email>'")
	case 1:
		return all[0], nil
	}
	return nil, fmt.Errorf("%d users exist; pick one with --user or the user config key", len(all))
}

func (a *app) mustUser(ctx context.Context) *types.User {
	u, err := a.currentUser(ctx)
	if err != nil {
		fatal("%v", err)
	}
	return u
}

// resolveTask finds the user's task by full id or unique id prefix.
func (a *app) resolveTask(ctx context.Context, userID, ref string) (*types.Task, error) {
	if t, err := a.tasks.Get(ctx, userID, ref); err == nil {
		return t, nil
	}
	all, err := a.tasks.List(ctx, userID, tasks.Filter{})
	if err != nil {
		return nil, err
	}
	var match *types.Task
	for _, t := range all {
		if strings.HasPrefix(t.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("task id %q is ambiguous", ref)
			}
			match = t
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", tasks.ErrNotFound, ref)
	}
	return match, nil
}
