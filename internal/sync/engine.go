package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	stdsync "sync"
	"time"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/registry"
	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/types"
)

const (
	// DefaultCallTimeout bounds a single provider call.
	DefaultCallTimeout = 15 * time.Second

	// DefaultMaxAttempts is how many times an advisory step is tried
	// before it is dropped.
	DefaultMaxAttempts = 5
)

var (
	// ErrTaskNotFound is returned when a task id does not resolve.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUnknownCollection is returned when a collection id is neither
	// selected nor visible to the credential.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Providers resolves the provider for a service. provider.Set satisfies it.
type Providers interface {
	Get(service types.Service) (provider.Provider, error)
}

// Config wires an Engine.
type Config struct {
	Store     storage.Store
	Registry  *registry.Registry
	Providers Providers

	// Logger defaults to stderr with a "[sync] " prefix.
	Logger *log.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// CallTimeout defaults to DefaultCallTimeout.
	CallTimeout time.Duration
	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
	// Notifier receives task and sync events. Optional.
	Notifier Notifier
}

// Engine runs sync flows. It is safe for concurrent use.
type Engine struct {
	store       storage.Store
	registry    *registry.Registry
	providers   Providers
	logger      *log.Logger
	now         func() time.Time
	callTimeout time.Duration
	maxAttempts int
	notifier    Notifier

	mu    stdsync.Mutex
	locks map[string]chan struct{}
}

// New creates an Engine.
//
// Example:
//
//	set, _ := provider.NewSet(opts)
//	engine := sync.New(sync.Config{
//	    Store:     db,
//	    Registry:  registry.New(db),
//	    Providers: set,
//	})
//	res, err := engine.Pull(ctx, userID)
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(cfg.Store)
	}
	return &Engine{
		store:       cfg.Store,
		registry:    cfg.Registry,
		providers:   cfg.Providers,
		logger:      cfg.Logger,
		now:         cfg.Now,
		callTimeout: cfg.CallTimeout,
		maxAttempts: cfg.MaxAttempts,
		notifier:    cfg.Notifier,
		locks:       make(map[string]chan struct{}),
	}
}

// SetNotifier replaces the event sink. Call before the engine is shared.
func (e *Engine) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	e.notifier = n
}

// lockUser blocks until the user's lock is held or ctx is done.
func (e *Engine) lockUser(ctx context.Context, userID string) (func(), error) {
	e.mu.Lock()
	l, ok := e.locks[userID]
	if !ok {
		l = make(chan struct{}, 1)
		e.locks[userID] = l
	}
	e.mu.Unlock()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WithUserLock runs fn while holding the user's lock, the same lock Pull,
// Push, ChangeStatus and DrainQueue take. fn must not call back into
// those methods for the same user.
func (e *Engine) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// call runs fn under the per-call timeout.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, provider.ErrTimeout) {
		return fmt.Errorf("%w: %v", provider.ErrTimeout, err)
	}
	return err
}

// Connect validates token against the service and, only if it is
// accepted, stores the integration. An existing selection is kept.
func (e *Engine) Connect(ctx context.Context, userID string, service types.Service, token string) (*types.Integration, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is empty", provider.ErrUnauthorized)
	}
	p, err := e.providers.Get(service)
	if err != nil {
		return nil, err
	}

	var acct *provider.Account
	err = e.call(ctx, func(ctx context.Context) error {
		var err error
		acct, err = p.WhoAmI(ctx, token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify %s token: %w", service, err)
	}

	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := e.registry.Get(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	in := &types.Integration{
		UserID:  userID,
		Service: service,
		Token:   token,
		Metadata: map[string]string{
			"username":   acct.Username,
			"account_id": acct.ID,
		},
	}
	if existing != nil {
		in.SelectedRepos = existing.SelectedRepos
	}
	if err := e.registry.Upsert(ctx, in); err != nil {
		return nil, err
	}

	e.logger.Printf("Connected %s for user %s as %s", service, userID, acct.Username)
	return in, nil
}

// ListCollections returns the collections the user's credential can see.
func (e *Engine) ListCollections(ctx context.Context, userID string, service types.Service) ([]provider.CollectionInfo, error) {
	in, p, err := e.integration(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	var out []provider.CollectionInfo
	err = e.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.ListCollections(ctx, in.Token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s collections: %w", service, err)
	}
	return out, nil
}

// SelectCollections resolves ids (or full names) against the collections
// visible to the credential and stores them as the selection.
func (e *Engine) SelectCollections(ctx context.Context, userID string, service types.Service, ids []string) (*types.Integration, error) {
	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	available, err := e.ListCollections(ctx, userID, service)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]provider.CollectionInfo, len(available)*2)
	for _, c := range available {
		byKey[c.ID] = c
		if c.FullName != "" {
			byKey[strings.ToLower(c.FullName)] = c
		}
	}

	selected := make([]types.Collection, 0, len(ids))
	for _, id := range ids {
		c, ok := byKey[id]
		if !ok {
			c, ok = byKey[strings.ToLower(id)]
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s %q", ErrUnknownCollection, service, id)
		}
		selected = append(selected, c.Collection())
	}

	return e.registry.SelectCollections(ctx, userID, service, selected)
}

// integration loads the user's integration and its provider.
func (e *Engine) integration(ctx context.Context, userID string, service types.Service) (*types.Integration, provider.Provider, error) {
	in, err := e.registry.Get(ctx, userID, service)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, fmt.Errorf("%w: %s", registry.ErrNotConnected, service)
	}
	p, err := e.providers.Get(service)
	if err != nil {
		return nil, nil, err
	}
	return in, p, nil
}

// findCollection resolves id from the selection first, then from the
// collections the credential can see.
func (e *Engine) findCollection(ctx context.Context, p provider.Provider, in *types.Integration, id string) (types.Collection, error) {
	if c, ok := in.FindCollection(id); ok {
		return c, nil
	}
	var available []provider.CollectionInfo
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		available, err = p.ListCollections(ctx, in.Token)
		return err
	})
	if err != nil {
		return types.Collection{}, fmt.Errorf("failed to resolve %s collection %s: %w", in.Service, id, err)
	}
	for _, c := range available {
		if c.ID == id || strings.EqualFold(c.FullName, id) {
			return c.Collection(), nil
		}
	}
	return types.Collection{}, fmt.Errorf("%w: %s %q", ErrUnknownCollection, in.Service, id)
}

// loadTask returns the task or ErrTaskNotFound.
func (e *Engine) loadTask(ctx context.Context, taskID string) (*types.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, nil
}
