package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/types"
)

func newTask(id, userID string, created time.Time) *types.Task {
	return &types.Task{
		ID:        id,
		UserID:    userID,
		Title:     "Task " + id,
		Status:    types.StatusTodo,
		Priority:  types.PriorityMedium,
		Source:    types.SourceLocal,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestStore_GetMissingIsNil(t *testing.T) {
	s := New()
	ctx := context.Background()

	task, err := s.GetTask(ctx, "x")
	if err != nil || task != nil {
		t.Errorf("GetTask(missing) = %v, %v", task, err)
	}
	in, err := s.GetIntegration(ctx, "x")
	if err != nil || in != nil {
		t.Errorf("GetIntegration(missing) = %v, %v", in, err)
	}
	u, err := s.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || u != nil {
		t.Errorf("GetUserByEmail(missing) = %v, %v", u, err)
	}
}

func TestStore_CopiesRecords(t *testing.T) {
	s := New()
	ctx := context.Background()

	task := newTask("t-1", "u-1", time.Now())
	task.Tags = []string{"a"}
	if err := s.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask() failed: %v", err)
	}
	task.Tags[0] = "mutated"

	got, _ := s.GetTask(ctx, "t-1")
	if got.Tags[0] != "a" {
		t.Errorf("store shares memory with caller: %v", got.Tags)
	}
	got.Title = "changed"
	again, _ := s.GetTask(ctx, "t-1")
	if again.Title == "changed" {
		t.Error("returned record aliases stored record")
	}
}

func TestStore_DedupConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	a := newTask("a", "u-1", now)
	a.Source, a.SourceID = types.SourceGitHub, "42"
	if err := s.PutTask(ctx, a); err != nil {
		t.Fatalf("PutTask(a) failed: %v", err)
	}

	b := newTask("b", "u-1", now)
	b.Source, b.SourceID = types.SourceGitHub, "42"
	if err := s.PutTask(ctx, b); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("PutTask(b) error = %v, want ErrConflict", err)
	}

	// Same key under another user is fine.
	c := newTask("c", "u-2", now)
	c.Source, c.SourceID = types.SourceGitHub, "42"
	if err := s.PutTask(ctx, c); err != nil {
		t.Errorf("PutTask(c) failed: %v", err)
	}

	// Overwriting a itself is not a conflict.
	a.Title = "again"
	if err := s.PutTask(ctx, a); err != nil {
		t.Errorf("overwrite failed: %v", err)
	}
}

func TestStore_Ordering(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		if err := s.PutTask(ctx, newTask(id, "u-1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("PutTask(%s) failed: %v", id, err)
		}
	}
	// Same timestamp falls back to id order.
	if err := s.PutTask(ctx, newTask("aa", "u-1", base)); err != nil {
		t.Fatalf("PutTask(aa) failed: %v", err)
	}

	tasks, err := s.TasksByUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("TasksByUser() failed: %v", err)
	}
	want := []string{"aa", "c", "a", "b"}
	for i, task := range tasks {
		if task.ID != want[i] {
			t.Fatalf("order = %v, want %v", ids(tasks), want)
		}
	}
}

func TestStore_DeleteUserCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.PutUser(ctx, &types.User{ID: "u-1", Email: "A@x.io", CreatedAt: now}); err != nil {
		t.Fatalf("PutUser() failed: %v", err)
	}
	if err := s.PutTask(ctx, newTask("t", "u-1", now)); err != nil {
		t.Fatalf("PutTask() failed: %v", err)
	}
	if err := s.DeleteUser(ctx, "u-1"); err != nil {
		t.Fatalf("DeleteUser() failed: %v", err)
	}
	tasks, _ := s.TasksByUser(ctx, "u-1")
	if len(tasks) != 0 {
		t.Errorf("tasks survived: %v", ids(tasks))
	}
}

func TestStore_Closed(t *testing.T) {
	s := New()
	_ = s.Close()
	if _, err := s.TasksByUser(context.Background(), "u"); err == nil {
		t.Error("expected error after Close")
	}
}

func ids(tasks []*types.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestStore_OneIntegrationPerUserService(t *testing.T) {
	s := New()
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)

	if err := s.PutIntegration(ctx, &types.Integration{ID: "i-1", UserID: "u-1", Service: types.ServiceTrello, Token: "a", CreatedAt: created}); err != nil {
		t.Fatalf("PutIntegration() failed: %v", err)
	}
	dup := &types.Integration{ID: "i-2", UserID: "u-1", Service: types.ServiceTrello, Token: "b", CreatedAt: time.Now()}
	if err := s.PutIntegration(ctx, dup); err != nil {
		t.Fatalf("PutIntegration() failed: %v", err)
	}
	if dup.ID != "i-1" || !dup.CreatedAt.Equal(created) {
		t.Errorf("dup = id %s created %v", dup.ID, dup.CreatedAt)
	}

	list, _ := s.IntegrationsByUser(ctx, "u-1")
	if len(list) != 1 || list[0].Token != "b" {
		t.Errorf("IntegrationsByUser() = %+v, want one record with token b", list)
	}

	// Another service for the same user is a separate record.
	if err := s.PutIntegration(ctx, &types.Integration{ID: "i-3", UserID: "u-1", Service: types.ServiceGitHub, Token: "c"}); err != nil {
		t.Fatalf("PutIntegration() failed: %v", err)
	}
	if list, _ := s.IntegrationsByUser(ctx, "u-1"); len(list) != 2 {
		t.Errorf("IntegrationsByUser() = %d, want 2", len(list))
	}
}
