package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/types"
)

// PushResult describes the outcome of Push.
type PushResult struct {
	Task *types.Task `json:"task"`
	// NoOp is set when the task was already linked and nothing was sent.
	NoOp bool   `json:"no_op"`
	URL  string `json:"url,omitempty"`
}

// Push creates an external item from a local task and links the task to
// it. Tasks that already have an external source are left alone.
//
// On provider failure the task is unchanged and the error is returned.
func (e *Engine) Push(ctx context.Context, taskID string, service types.Service, collectionID string) (*PushResult, error) {
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	unlock, err := e.lockUser(ctx, task.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; a concurrent push may have linked it.
	if task, err = e.loadTask(ctx, taskID); err != nil {
		return nil, err
	}
	if !task.IsLocal() {
		return &PushResult{Task: task, NoOp: true}, nil
	}

	in, p, err := e.integration(ctx, task.UserID, service)
	if err != nil {
		return nil, err
	}
	coll, err := e.findCollection(ctx, p, in, collectionID)
	if err != nil {
		return nil, err
	}

	var created *provider.CreatedItem
	err = e.call(ctx, func(ctx context.Context) error {
		var err error
		created, err = p.CreateItem(ctx, in.Token, coll, provider.NewItem{
			Title:  task.Title,
			Body:   task.Description,
			Labels: task.Tags,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to push task %s to %s: %w", task.ID, service, err)
	}

	link := &types.Link{
		Source:     service.Source(),
		SourceID:   created.ID,
		SourceRef:  created.Ref,
		Collection: coll.ID,
	}
	if err := task.Apply(types.TaskUpdate{Link: link}, e.now()); err != nil {
		return nil, fmt.Errorf("failed to link task %s: %w", task.ID, err)
	}
	if err := e.store.PutTask(ctx, task); err != nil {
		e.logger.Printf("Warning: %s item %s created but task %s not linked: %v", service, created.ID, task.ID, err)
		return nil, fmt.Errorf("failed to save pushed task %s: %w", task.ID, err)
	}

	e.logger.Printf("Pushed task %s to %s %s as %s", task.ID, service, displayName(coll), created.Ref)
	e.notifier.TaskPushed(task)
	return &PushResult{Task: task, URL: created.URL}, nil
}

// StatusResult describes the outcome of ChangeStatus.
type StatusResult struct {
	Task *types.Task `json:"task"`
	// Propagated is set when every advisory step reached the service.
	Propagated bool `json:"propagated"`
	// Warnings lists advisory failures. The local change stands.
	Warnings []string `json:"warnings,omitempty"`
	// QueuedID is the sync queue entry holding unfinished steps.
	QueuedID string `json:"queued_id,omitempty"`
}

// ChangeStatus commits a status change locally and then, for linked
// tasks, updates the external item and leaves a comment. The external
// steps are advisory: failures are reported and queued, never returned.
func (e *Engine) ChangeStatus(ctx context.Context, taskID string, status types.Status) (*StatusResult, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", types.ErrInvalidTask, status)
	}

	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	unlock, err := e.lockUser(ctx, task.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if task, err = e.loadTask(ctx, taskID); err != nil {
		return nil, err
	}

	from := task.Status
	if err := task.Apply(types.TaskUpdate{Status: &status}, e.now()); err != nil {
		return nil, err
	}
	if err := e.store.PutTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	e.notifier.StatusChanged(task, from)

	res := &StatusResult{Task: task}
	if task.IsLocal() || from == status {
		return res, nil
	}

	if err := e.supersede(ctx, task); err != nil {
		return nil, err
	}

	job := newAdvisory(task, status)
	remaining, errs := e.runAdvisory(ctx, task.UserID, job)
	for _, err := range errs {
		res.Warnings = append(res.Warnings, err.Error())
		e.logger.Printf("Warning: status of task %s not propagated: %v", task.ID, err)
	}
	if len(remaining) == 0 {
		res.Propagated = true
		return res, nil
	}

	job.Steps = remaining
	job.LastError = errs[len(errs)-1].Error()
	entry, err := e.enqueue(ctx, task, job)
	if err != nil {
		return nil, err
	}
	res.QueuedID = entry.ID
	return res, nil
}

// StatusComment is the comment left on the external item.
func StatusComment(s types.Status) string {
	msg := map[types.Status]string{
		types.StatusTodo:       "moved back to Todo",
		types.StatusInProgress: "started working on this",
		types.StatusDone:       "completed this task",
	}[s]
	return "Status updated: " + msg
}

// StatusLabels returns the labels to send with a status change: workflow
// labels are removed, in-progress is added back when it applies, and the
// collection tag added on import is left out.
func StatusLabels(tags []string, collectionName string, s types.Status) []string {
	out := make([]string, 0, len(tags)+1)
	for _, t := range tags {
		switch t {
		case string(types.StatusTodo), string(types.StatusInProgress), string(types.StatusDone), collectionName:
			continue
		}
		out = append(out, t)
	}
	if s == types.StatusInProgress {
		out = append(out, string(types.StatusInProgress))
	}
	return out
}

// DrainResult summarizes a DrainQueue pass.
type DrainResult struct {
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Dropped   int `json:"dropped"`
}

// DrainQueue retries queued advisory steps for a user. Entries are removed
// once every step succeeds or after MaxAttempts tries.
func (e *Engine) DrainQueue(ctx context.Context, userID string) (*DrainResult, error) {
	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries, err := e.store.QueueByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}

	res := &DrainResult{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var job advisory
		if entry.EntityType != advisoryEntity || json.Unmarshal(entry.Payload, &job) != nil || len(job.Steps) == 0 {
			e.logger.Printf("Warning: dropping unreadable queue entry %s", entry.ID)
			if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
				return res, fmt.Errorf("failed to delete queue entry %s: %w", entry.ID, err)
			}
			res.Dropped++
			continue
		}

		remaining, errs := e.runAdvisory(ctx, userID, job)
		entry.Attempts++

		switch {
		case len(remaining) == 0:
			if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
				return res, fmt.Errorf("failed to delete queue entry %s: %w", entry.ID, err)
			}
			res.Completed++
		case entry.Attempts >= e.maxAttempts:
			e.logger.Printf("Warning: dropping status update for task %s after %d attempts: %v",
				entry.EntityID, entry.Attempts, errs[len(errs)-1])
			if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
				return res, fmt.Errorf("failed to delete queue entry %s: %w", entry.ID, err)
			}
			res.Dropped++
		default:
			job.Steps = remaining
			job.LastError = errs[len(errs)-1].Error()
			if entry.Payload, err = json.Marshal(job); err != nil {
				return res, fmt.Errorf("failed to encode queue entry: %w", err)
			}
			if err := e.store.PutQueueEntry(ctx, entry); err != nil {
				return res, fmt.Errorf("failed to update queue entry %s: %w", entry.ID, err)
			}
			res.Pending++
		}
	}

	if len(entries) > 0 {
		e.logger.Printf("Queue drained for %s: completed=%d pending=%d dropped=%d",
			userID, res.Completed, res.Pending, res.Dropped)
	}
	return res, nil
}
