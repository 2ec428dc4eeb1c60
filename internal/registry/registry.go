// Package registry keeps at most one integration per (user, service) and
// the list of collections selected for sync.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/types"
)

// ErrNotConnected is returned when an operation needs an integration the
// user has not connected.
var ErrNotConnected = errors.New("service not connected")

// Registry reads and writes integrations through a Store.
type Registry struct {
	store storage.Store
	now   func() time.Time
}

// New returns a Registry backed by store.
func New(store storage.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Get returns the user's integration for service, or (nil, nil).
func (r *Registry) Get(ctx context.Context, userID string, service types.Service) (*types.Integration, error) {
	all, err := r.store.IntegrationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load integrations: %w", err)
	}
	for _, i := range all {
		if i.Service == service {
			return i, nil
		}
	}
	return nil, nil
}

// Upsert stores in, keyed by (UserID, Service). An existing record keeps
// its id and creation time; everything else is overwritten.
func (r *Registry) Upsert(ctx context.Context, in *types.Integration) error {
	existing, err := r.Get(ctx, in.UserID, in.Service)
	if err != nil {
		return err
	}

	now := r.now()
	if existing != nil {
		in.ID = existing.ID
		in.CreatedAt = existing.CreatedAt
	} else {
		if in.ID == "" {
			in.ID = uuid.New().String()
		}
		if in.CreatedAt.IsZero() {
			in.CreatedAt = now
		}
	}
	in.UpdatedAt = now
	if in.SelectedRepos == nil {
		in.SelectedRepos = []types.Collection{}
	}

	if err := r.store.PutIntegration(ctx, in); err != nil {
		return fmt.Errorf("failed to save %s integration: %w", in.Service, err)
	}
	return nil
}

// SelectCollections replaces the selection list. Duplicate ids are dropped
// and order is preserved.
func (r *Registry) SelectCollections(ctx context.Context, userID string, service types.Service, collections []types.Collection) (*types.Integration, error) {
	in, err := r.Get(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, service)
	}

	seen := make(map[string]struct{}, len(collections))
	selected := make([]types.Collection, 0, len(collections))
	for _, c := range collections {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		selected = append(selected, c)
	}

	in.SelectedRepos = selected
	in.UpdatedAt = r.now()
	if err := r.store.PutIntegration(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to save %s selection: %w", service, err)
	}
	return in, nil
}

// Selected returns the collections chosen for sync. An unconnected service
// has no selection.
func (r *Registry) Selected(ctx context.Context, userID string, service types.Service) ([]types.Collection, error) {
	in, err := r.Get(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return []types.Collection{}, nil
	}
	return in.SelectedRepos, nil
}

// List returns the user's integrations in service order.
func (r *Registry) List(ctx context.Context, userID string) ([]*types.Integration, error) {
	all, err := r.store.IntegrationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load integrations: %w", err)
	}
	out := make([]*types.Integration, 0, len(all))
	for _, svc := range types.Services {
		for _, i := range all {
			if i.Service == svc {
				out = append(out, i)
				break
			}
		}
	}
	return out, nil
}

// Disconnect removes the user's integration for service. Removing an
// absent integration is not an error.
func (r *Registry) Disconnect(ctx context.Context, userID string, service types.Service) error {
	in, err := r.Get(ctx, userID, service)
	if err != nil || in == nil {
		return err
	}
	if err := r.store.DeleteIntegration(ctx, in.ID); err != nil {
		return fmt.Errorf("failed to remove %s integration: %w", service, err)
	}
	return nil
}
