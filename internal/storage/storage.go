// Package storage defines the persistence contract for bliq.
//
// A Store keeps four kinds of records: users, tasks, integrations and
// sync queue entries. Reads of a missing key return (nil, nil). Writes are
// atomic insert-or-overwrite by primary key. Index scans are ordered by
// created_at then id so callers see a deterministic order.
//
// The Store carries no business rules: de-duplication, integration
// uniqueness and the push transition live in the registry and sync
// packages.
package storage

import (
	"context"
	"errors"

	"github.com/bliqhq/bliq/internal/types"
)

// ErrConflict is returned when a write violates a uniqueness constraint,
// for example a second task with the same (user, source, source_id).
var ErrConflict = errors.New("storage conflict")

// Store is implemented by the sqlite and memory backends.
type Store interface {
	PutUser(ctx context.Context, u *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	ListUsers(ctx context.Context) ([]*types.User, error)
	DeleteUser(ctx context.Context, id string) error

	PutTask(ctx context.Context, t *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	DeleteTask(ctx context.Context, id string) error
	TasksByUser(ctx context.Context, userID string) ([]*types.Task, error)
	TasksByStatus(ctx context.Context, userID string, status types.Status) ([]*types.Task, error)
	TasksBySource(ctx context.Context, userID string, source types.Source) ([]*types.Task, error)

	// PutIntegration upserts by id and by (UserID, Service). When another
	// record already holds the pair it is overwritten in place, and i.ID
	// and i.CreatedAt are set to that record's values.
	PutIntegration(ctx context.Context, i *types.Integration) error
	GetIntegration(ctx context.Context, id string) (*types.Integration, error)
	DeleteIntegration(ctx context.Context, id string) error
	IntegrationsByUser(ctx context.Context, userID string) ([]*types.Integration, error)

	PutQueueEntry(ctx context.Context, e *types.QueueEntry) error
	DeleteQueueEntry(ctx context.Context, id string) error
	QueueByUser(ctx context.Context, userID string) ([]*types.QueueEntry, error)

	Stats(ctx context.Context, userID string) (*Stats, error)

	Close() error
}

// Stats summarizes a user's tasks.
type Stats struct {
	Total        int                  `json:"total"`
	ByStatus     map[types.Status]int `json:"by_status"`
	BySource     map[types.Source]int `json:"by_source"`
	Integrations int                  `json:"integrations"`
	Queued       int                  `json:"queued"`
}

// NewStats returns Stats with every known status and source present.
func NewStats() *Stats {
	return &Stats{
		ByStatus: map[types.Status]int{
			types.StatusTodo:       0,
			types.StatusInProgress: 0,
			types.StatusDone:       0,
		},
		BySource: map[types.Source]int{
			types.SourceLocal:  0,
			types.SourceGitHub: 0,
			types.SourceTrello: 0,
		},
	}
}
