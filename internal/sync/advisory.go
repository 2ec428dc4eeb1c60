package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/types"
)

// advisoryEntity is the queue entity type for status propagation.
const advisoryEntity = "task_status"

const (
	stepState   = "state"
	stepComment = "comment"
)

// advisory is a status change still to be reflected on a service. It is
// self-contained so it can be replayed after the task changed or vanished.
type advisory struct {
	Service    types.Service `json:"service"`
	Collection string        `json:"collection"`
	Ref        string        `json:"ref"`
	Status     types.Status  `json:"status"`
	Labels     []string      `json:"labels"`
	Steps      []string      `json:"steps"`
	LastError  string        `json:"last_error,omitempty"`
}

func newAdvisory(task *types.Task, status types.Status) advisory {
	ref := task.SourceRef
	if ref == "" {
		ref = task.SourceID
	}
	return advisory{
		Service:    types.Service(task.Source),
		Collection: task.Collection,
		Ref:        ref,
		Status:     status,
		Labels:     task.Tags,
		Steps:      []string{stepState, stepComment},
	}
}

// runAdvisory attempts each step independently and returns the steps that
// failed with their errors.
func (e *Engine) runAdvisory(ctx context.Context, userID string, job advisory) ([]string, []error) {
	in, p, err := e.integration(ctx, userID, job.Service)
	if err != nil {
		return job.Steps, []error{err}
	}
	coll, err := e.findCollection(ctx, p, in, job.Collection)
	if err != nil {
		return job.Steps, []error{err}
	}

	var remaining []string
	var errs []error
	for _, step := range job.Steps {
		err := e.call(ctx, func(ctx context.Context) error {
			switch step {
			case stepState:
				labels := StatusLabels(job.Labels, displayName(coll), job.Status)
				return p.UpdateItemState(ctx, in.Token, coll, job.Ref, provider.StateFor(job.Status), labels)
			case stepComment:
				return p.AddComment(ctx, in.Token, coll, job.Ref, StatusComment(job.Status))
			}
			return fmt.Errorf("%w: step %q", provider.ErrUnsupported, step)
		})
		if err != nil {
			remaining = append(remaining, step)
			errs = append(errs, fmt.Errorf("%s %s: %w", job.Service, step, err))
		}
	}
	return remaining, errs
}

// enqueue stores unfinished steps for DrainQueue.
func (e *Engine) enqueue(ctx context.Context, task *types.Task, job advisory) (*types.QueueEntry, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue entry: %w", err)
	}
	entry := &types.QueueEntry{
		ID:         uuid.New().String(),
		UserID:     task.UserID,
		Action:     types.QueueUpdate,
		EntityType: advisoryEntity,
		EntityID:   task.ID,
		Payload:    payload,
		Attempts:   1,
		CreatedAt:  e.now(),
	}
	if err := e.store.PutQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to queue status update for task %s: %w", task.ID, err)
	}
	return entry, nil
}

// supersede removes queued status updates for task; a newer status makes
// them stale.
func (e *Engine) supersede(ctx context.Context, task *types.Task) error {
	entries, err := e.store.QueueByUser(ctx, task.UserID)
	if err != nil {
		return fmt.Errorf("failed to load sync queue: %w", err)
	}
	for _, entry := range entries {
		if entry.EntityType == advisoryEntity && entry.EntityID == task.ID {
			if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
				return fmt.Errorf("failed to delete queue entry %s: %w", entry.ID, err)
			}
		}
	}
	return nil
}
