// Package api serves the JSON HTTP interface used by the web UI.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bliqhq/bliq/internal/dashboard"
	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/registry"
	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/tasks"
	"github.com/bliqhq/bliq/internal/types"
	"github.com/bliqhq/bliq/internal/users"
)

// Syncer is the part of the sync engine the API drives. *sync.Engine
// satisfies it.
type Syncer interface {
	Pull(ctx context.Context, userID string) (*sync.PullResult, error)
	DrainQueue(ctx context.Context, userID string) (*sync.DrainResult, error)
	Push(ctx context.Context, taskID string, service types.Service, collectionID string) (*sync.PushResult, error)
	Connect(ctx context.Context, userID string, service types.Service, token string) (*types.Integration, error)
	ListCollections(ctx context.Context, userID string, service types.Service) ([]provider.CollectionInfo, error)
	SelectCollections(ctx context.Context, userID string, service types.Service, ids []string) (*types.Integration, error)
}

// TaskEvents receives edits made through the API. *dashboard.Handler
// satisfies it.
type TaskEvents interface {
	TaskCreated(task *types.Task)
	TaskUpdated(task *types.Task)
	TaskDeleted(userID, taskID string)
}

// Deps are the services behind the routes.
type Deps struct {
	Users    *users.Service
	Tasks    *tasks.Service
	Sync     Syncer
	Registry *registry.Registry

	// Dashboard, when set, is served at /ws for the authenticated user.
	Dashboard *dashboard.Server
	// Events is optional.
	Events TaskEvents
}

// Config configures the HTTP server.
type Config struct {
	Addr   string
	Logger *log.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8787",
		Logger: log.New(os.Stderr, "[api] ", log.LstdFlags),
	}
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	router *gin.Engine
	server *http.Server
	logger *log.Logger
}

// New builds the router. Deps.Users, Deps.Tasks, Deps.Sync and
// Deps.Registry are required.
func New(deps Deps, config *Config) (*Server, error) {
	if deps.Users == nil || deps.Tasks == nil || deps.Sync == nil || deps.Registry == nil {
		return nil, fmt.Errorf("api requires users, tasks, sync and registry")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(config.Logger))

	s := &Server{
		deps:   deps,
		router: router,
		logger: config.Logger,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Printf("HTTP API listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Println("Shutting down HTTP API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP API: %w", err)
	}
	return nil
}

func loggerMiddleware(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
