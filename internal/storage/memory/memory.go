// Package memory is an in-process storage.Store used by tests and by
// callers that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/types"
)

// Store keeps records in maps guarded by a single RWMutex. Records are
// copied on the way in and out so callers never share memory with the store.
type Store struct {
	mu           sync.RWMutex
	users        map[string]*types.User
	tasks        map[string]*types.Task
	integrations map[string]*types.Integration
	queue        map[string]*types.QueueEntry
	closed       bool
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]*types.User),
		tasks:        make(map[string]*types.Task),
		integrations: make(map[string]*types.Integration),
		queue:        make(map[string]*types.QueueEntry),
	}
}

func (s *Store) check() error {
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// PutUser inserts or overwrites a user.
func (s *Store) PutUser(ctx context.Context, u *types.User) error {
	if u.ID == "" || u.Email == "" {
		return fmt.Errorf("invalid user: id and email are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	email := strings.ToLower(u.Email)
	for id, existing := range s.users {
		if id != u.ID && existing.Email == email {
			return fmt.Errorf("failed to upsert user %s: %w: email %s taken", u.ID, storage.ErrConflict, email)
		}
	}
	cp := *u
	cp.Email = email
	if prev, ok := s.users[u.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	s.users[u.ID] = &cp
	return nil
}

// GetUser returns a user or (nil, nil).
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail looks a user up by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// ListUsers returns every user ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]*types.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

// DeleteUser removes a user and everything owned by them.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.users, id)
	for k, t := range s.tasks {
		if t.UserID == id {
			delete(s.tasks, k)
		}
	}
	for k, i := range s.integrations {
		if i.UserID == id {
			delete(s.integrations, k)
		}
	}
	for k, e := range s.queue {
		if e.UserID == id {
			delete(s.queue, k)
		}
	}
	return nil
}

// PutTask inserts or overwrites a task, enforcing the dedup key.
func (s *Store) PutTask(ctx context.Context, t *types.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if key, ok := t.DedupKey(); ok {
		for id, existing := range s.tasks {
			if id == t.ID || existing.UserID != t.UserID {
				continue
			}
			if k, ok := existing.DedupKey(); ok && k == key {
				return fmt.Errorf("failed to upsert task %s: %w: %s already stored as %s", t.ID, storage.ErrConflict, key, id)
			}
		}
	}
	s.tasks[t.ID] = copyTask(t)
	return nil
}

// GetTask returns a task or (nil, nil).
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return copyTask(t), nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.tasks, id)
	return nil
}

// TasksByUser returns the user's tasks.
func (s *Store) TasksByUser(ctx context.Context, userID string) ([]*types.Task, error) {
	return s.filterTasks(func(t *types.Task) bool { return t.UserID == userID })
}

// TasksByStatus returns the user's tasks with the given status.
func (s *Store) TasksByStatus(ctx context.Context, userID string, status types.Status) ([]*types.Task, error) {
	return s.filterTasks(func(t *types.Task) bool { return t.UserID == userID && t.Status == status })
}

// TasksBySource returns the user's tasks from the given source.
func (s *Store) TasksBySource(ctx context.Context, userID string, source types.Source) ([]*types.Task, error) {
	return s.filterTasks(func(t *types.Task) bool { return t.UserID == userID && t.Source == source })
}

func (s *Store) filterTasks(keep func(*types.Task) bool) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := []*types.Task{}
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

// PutIntegration inserts or overwrites an integration. An existing record
// for the same user and service keeps its id and creation time.
func (s *Store) PutIntegration(ctx context.Context, i *types.Integration) error {
	if err := i.Validate(); err != nil {
		return fmt.Errorf("invalid integration: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for id, existing := range s.integrations {
		if id != i.ID && existing.UserID == i.UserID && existing.Service == i.Service {
			i.ID = existing.ID
			i.CreatedAt = existing.CreatedAt
			break
		}
	}
	s.integrations[i.ID] = copyIntegration(i)
	return nil
}

// GetIntegration returns an integration or (nil, nil).
func (s *Store) GetIntegration(ctx context.Context, id string) (*types.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	i, ok := s.integrations[id]
	if !ok {
		return nil, nil
	}
	return copyIntegration(i), nil
}

// DeleteIntegration removes an integration.
func (s *Store) DeleteIntegration(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.integrations, id)
	return nil
}

// IntegrationsByUser returns the user's integrations.
func (s *Store) IntegrationsByUser(ctx context.Context, userID string) ([]*types.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := []*types.Integration{}
	for _, i := range s.integrations {
		if i.UserID == userID {
			out = append(out, copyIntegration(i))
		}
	}
	sort.Slice(out, func(a, b int) bool { return less(out[a].CreatedAt, out[a].ID, out[b].CreatedAt, out[b].ID) })
	return out, nil
}

// PutQueueEntry inserts or overwrites a queue entry.
func (s *Store) PutQueueEntry(ctx context.Context, e *types.QueueEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	s.queue[e.ID] = &cp
	return nil
}

// DeleteQueueEntry removes a queue entry.
func (s *Store) DeleteQueueEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.queue, id)
	return nil
}

// QueueByUser returns the user's pending entries, oldest first.
func (s *Store) QueueByUser(ctx context.Context, userID string) ([]*types.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := []*types.QueueEntry{}
	for _, e := range s.queue {
		if e.UserID == userID {
			cp := *e
			cp.Payload = append([]byte(nil), e.Payload...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

// Stats counts the user's tasks.
func (s *Store) Stats(ctx context.Context, userID string) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	stats := storage.NewStats()
	for _, t := range s.tasks {
		if t.UserID != userID {
			continue
		}
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.BySource[t.Source]++
	}
	for _, i := range s.integrations {
		if i.UserID == userID {
			stats.Integrations++
		}
	}
	for _, e := range s.queue {
		if e.UserID == userID {
			stats.Queued++
		}
	}
	return stats, nil
}

// Close marks the store closed; later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func less(at time.Time, aid string, bt time.Time, bid string) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return aid < bid
}

func copyTask(t *types.Task) *types.Task {
	cp := *t
	cp.Tags = append([]string{}, t.Tags...)
	cp.Comments = append([]types.Comment{}, t.Comments...)
	return &cp
}

func copyIntegration(i *types.Integration) *types.Integration {
	cp := *i
	cp.SelectedRepos = append([]types.Collection{}, i.SelectedRepos...)
	cp.Metadata = make(map[string]string, len(i.Metadata))
	for k, v := range i.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
