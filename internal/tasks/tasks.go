// Package tasks implements the local task operations a user performs
// directly: create, read, edit, delete and comment. Status changes go
// through the sync engine so linked items hear about them.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/types"
)

// ErrNotFound is returned for a missing task and for a task owned by
// someone else.
var ErrNotFound = sync.ErrTaskNotFound

// StatusChanger commits a status change. *sync.Engine satisfies it.
type StatusChanger interface {
	ChangeStatus(ctx context.Context, taskID string, status types.Status) (*sync.StatusResult, error)
}

// Locker runs fn under the lock the sync engine holds for a user, so an
// edit never overwrites a task that a push linked in the meantime.
// *sync.Engine satisfies it.
type Locker interface {
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}

// Service performs task operations on behalf of a user.
type Service struct {
	store  storage.Store
	status StatusChanger
	locker Locker
	now    func() time.Time
}

// New returns a Service. status may be nil, in which case status changes
// are applied locally only. When status is also a Locker, read-modify-write
// operations run under its lock.
func New(store storage.Store, status StatusChanger) *Service {
	s := &Service{store: store, status: status, now: time.Now}
	if l, ok := status.(Locker); ok {
		s.locker = l
	}
	return s
}

// locked runs fn under the user's lock, if there is one.
func (s *Service) locked(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithUserLock(ctx, userID, fn)
}

// NewTask holds the fields a user may set on creation.
type NewTask struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	IsMarkdown  bool           `json:"is_markdown"`
	Priority    types.Priority `json:"priority"`
	Status      types.Status   `json:"status"`
	Tags        []string       `json:"tags"`
}

// Create stores a new local task.
func (s *Service) Create(ctx context.Context, userID string, in NewTask) (*types.Task, error) {
	t, err := types.NewTask(userID, in.Title, s.now())
	if err != nil {
		return nil, err
	}
	t.Description = in.Description
	t.IsMarkdown = in.IsMarkdown
	if in.Priority != "" {
		t.Priority = in.Priority
	}
	if in.Status != "" {
		t.Status = in.Status
	}
	if in.Tags != nil {
		t.Tags = types.NormalizeTags(in.Tags)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.PutTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return t, nil
}

// Get returns the user's task.
func (s *Service) Get(ctx context.Context, userID, id string) (*types.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	if t == nil || t.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status types.Status
	Source types.Source
	Tag    string
	// Since keeps tasks updated at or after this time.
	Since time.Time
	// Query matches title or description, case-insensitively.
	Query string
}

// List returns the user's tasks that match f, oldest first.
func (s *Service) List(ctx context.Context, userID string, f Filter) ([]*types.Task, error) {
	var (
		all []*types.Task
		err error
	)
	switch {
	case f.Status != "":
		all, err = s.store.TasksByStatus(ctx, userID, f.Status)
	case f.Source != "":
		all, err = s.store.TasksBySource(ctx, userID, f.Source)
	default:
		all, err = s.store.TasksByUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]*types.Task, 0, len(all))
	for _, t := range all {
		if f.Source != "" && t.Source != f.Source {
			continue
		}
		if f.Tag != "" && !t.HasTag(f.Tag) {
			continue
		}
		if !f.Since.IsZero() && t.UpdatedAt.Before(f.Since) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(t.Title), query) &&
			!strings.Contains(strings.ToLower(t.Description), query) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Update holds optional edits. Nil fields are left untouched.
type Update struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	IsMarkdown  *bool           `json:"is_markdown"`
	Priority    *types.Priority `json:"priority"`
	Status      *types.Status   `json:"status"`
	Tags        []string        `json:"tags"`
}

// UpdateResult carries the stored task and, when the status was part of
// the edit, the propagation outcome.
type UpdateResult struct {
	Task   *types.Task        `json:"task"`
	Status *sync.StatusResult `json:"status,omitempty"`
}

// Update edits a task. Field edits are saved first; a status change is
// then handed to the sync engine.
func (s *Service) Update(ctx context.Context, userID, id string, u Update) (*UpdateResult, error) {
	if u.Status != nil && !u.Status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", types.ErrInvalidTask, *u.Status)
	}

	fields := types.TaskUpdate{
		Title:       u.Title,
		Description: u.Description,
		IsMarkdown:  u.IsMarkdown,
		Priority:    u.Priority,
		Tags:        u.Tags,
	}
	if u.Status != nil && s.status == nil {
		fields.Status = u.Status
	}

	var t *types.Task
	err := s.locked(ctx, userID, func(ctx context.Context) error {
		var err error
		if t, err = s.Get(ctx, userID, id); err != nil {
			return err
		}
		if err := t.Apply(fields, s.now()); err != nil {
			return err
		}
		if err := s.store.PutTask(ctx, t); err != nil {
			return fmt.Errorf("failed to save task %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &UpdateResult{Task: t}
	if u.Status == nil || s.status == nil {
		return res, nil
	}
	sr, err := s.status.ChangeStatus(ctx, id, *u.Status)
	if err != nil {
		return nil, err
	}
	res.Task = sr.Task
	res.Status = sr
	return res, nil
}

// Delete removes the user's task.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.locked(ctx, userID, func(ctx context.Context) error {
		if _, err := s.Get(ctx, userID, id); err != nil {
			return err
		}
		if err := s.store.DeleteTask(ctx, id); err != nil {
			return fmt.Errorf("failed to delete task %s: %w", id, err)
		}
		return nil
	})
}

// Comment appends a local comment to the user's task.
func (s *Service) Comment(ctx context.Context, userID, id, author, body string) (*types.Comment, error) {
	var c *types.Comment
	err := s.locked(ctx, userID, func(ctx context.Context) error {
		t, err := s.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		if c, err = t.AddComment(author, body, types.SourceLocal, s.now()); err != nil {
			return err
		}
		if err := s.store.PutTask(ctx, t); err != nil {
			return fmt.Errorf("failed to save comment on task %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
