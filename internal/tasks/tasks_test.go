package tasks

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/provider/providertest"
	"github.com/bliqhq/bliq/internal/storage/memory"
	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/types"
)

type recordingChanger struct {
	store *memory.Store
	calls []types.Status
}

func (r *recordingChanger) ChangeStatus(ctx context.Context, id string, status types.Status) (*sync.StatusResult, error) {
	r.calls = append(r.calls, status)
	t, err := r.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := t.Apply(types.TaskUpdate{Status: &status}, time.Now()); err != nil {
		return nil, err
	}
	if err := r.store.PutTask(ctx, t); err != nil {
		return nil, err
	}
	return &sync.StatusResult{Task: t}, nil
}

func setup(t *testing.T) (*Service, *recordingChanger) {
	t.Helper()
	store := memory.New()
	changer := &recordingChanger{store: store}
	return New(store, changer), changer
}

func TestCreateAndGet(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	task, err := s.Create(ctx, "u-1", NewTask{
		Title:    "  Write docs ",
		Priority: types.PriorityHigh,
		Tags:     []string{"docs", "docs", " "},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if task.Title != "Write docs" || task.Source != types.SourceLocal {
		t.Errorf("unexpected task: %+v", task)
	}
	if len(task.Tags) != 1 {
		t.Errorf("Tags = %v, want [docs]", task.Tags)
	}

	got, err := s.Get(ctx, "u-1", task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Priority != types.PriorityHigh {
		t.Errorf("Priority = %s", got.Priority)
	}

	if _, err := s.Get(ctx, "u-2", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user's task: got %v, want ErrNotFound", err)
	}
}

func TestCreate_Invalid(t *testing.T) {
	s, _ := setup(t)
	tests := []struct {
		name string
		in   NewTask
	}{
		{"empty title", NewTask{Title: "  "}},
		{"bad priority", NewTask{Title: "x", Priority: "urgent"}},
		{"bad status", NewTask{Title: "x", Status: "blocked"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(context.Background(), "u-1", tt.in); !errors.Is(err, types.ErrInvalidTask) {
				t.Errorf("got %v, want ErrInvalidTask", err)
			}
		})
	}
}

func TestList_Filters(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(title string, status types.Status, tags []string, at time.Time) {
		s.now = func() time.Time { return at }
		if _, err := s.Create(ctx, "u-1", NewTask{Title: title, Status: status, Tags: tags}); err != nil {
			t.Fatalf("Create %s failed: %v", title, err)
		}
	}
	mk("Alpha", types.StatusTodo, []string{"api"}, base)
	mk("Beta", types.StatusDone, []string{"web"}, base.Add(time.Hour))
	mk("Gamma release", types.StatusTodo, []string{"web"}, base.Add(2*time.Hour))
	if _, err := s.Create(ctx, "u-2", NewTask{Title: "Other"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"Alpha", "Beta", "Gamma release"}},
		{"status", Filter{Status: types.StatusTodo}, []string{"Alpha", "Gamma release"}},
		{"tag", Filter{Tag: "web"}, []string{"Beta", "Gamma release"}},
		{"since", Filter{Since: base.Add(30 * time.Minute)}, []string{"Beta", "Gamma release"}},
		{"query", Filter{Query: "RELEASE"}, []string{"Gamma release"}},
		{"source", Filter{Source: types.SourceGitHub}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, "u-1", tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d tasks, want %d", len(got), len(tt.want))
			}
			for i, task := range got {
				if task.Title != tt.want[i] {
					t.Errorf("task %d = %q, want %q", i, task.Title, tt.want[i])
				}
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	s, changer := setup(t)
	ctx := context.Background()
	task, err := s.Create(ctx, "u-1", NewTask{Title: "Old"})
	if err != nil {
		t.Fatal(err)
	}

	title := "New"
	res, err := s.Update(ctx, "u-1", task.ID, Update{Title: &title, Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Task.Title != "New" || res.Status != nil {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(changer.calls) != 0 {
		t.Errorf("status changer called without a status edit")
	}

	done := types.StatusDone
	res, err = s.Update(ctx, "u-1", task.ID, Update{Status: &done})
	if err != nil {
		t.Fatalf("Update status failed: %v", err)
	}
	if res.Task.Status != types.StatusDone || res.Status == nil {
		t.Errorf("status not delegated: %+v", res)
	}
	if len(changer.calls) != 1 {
		t.Errorf("changer calls = %v", changer.calls)
	}

	stored, _ := s.Get(ctx, "u-1", task.ID)
	if stored.Title != "New" || stored.Status != types.StatusDone {
		t.Errorf("stored task = %+v", stored)
	}
}

func TestUpdate_Invalid(t *testing.T) {
	s, changer := setup(t)
	ctx := context.Background()
	task, err := s.Create(ctx, "u-1", NewTask{Title: "Keep"})
	if err != nil {
		t.Fatal(err)
	}

	empty := ""
	if _, err := s.Update(ctx, "u-1", task.ID, Update{Title: &empty}); !errors.Is(err, types.ErrInvalidTask) {
		t.Errorf("empty title: got %v", err)
	}
	bad := types.Status("blocked")
	if _, err := s.Update(ctx, "u-1", task.ID, Update{Status: &bad}); !errors.Is(err, types.ErrInvalidTask) {
		t.Errorf("bad status: got %v", err)
	}
	if len(changer.calls) != 0 {
		t.Errorf("changer called for invalid update")
	}

	stored, _ := s.Get(ctx, "u-1", task.ID)
	if stored.Title != "Keep" {
		t.Errorf("task modified by failed update: %q", stored.Title)
	}

	if _, err := s.Update(ctx, "u-2", task.ID, Update{Title: &empty}); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user: got %v", err)
	}
}

func TestUpdate_WithoutEngine(t *testing.T) {
	s := New(memory.New(), nil)
	ctx := context.Background()
	task, err := s.Create(ctx, "u-1", NewTask{Title: "x"})
	if err != nil {
		t.Fatal(err)
	}
	st := types.StatusInProgress
	res, err := s.Update(ctx, "u-1", task.ID, Update{Status: &st})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Task.Status != types.StatusInProgress {
		t.Errorf("Status = %s", res.Task.Status)
	}
}

func TestDeleteAndComment(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	task, err := s.Create(ctx, "u-1", NewTask{Title: "x"})
	if err != nil {
		t.Fatal(err)
	}

	c, err := s.Comment(ctx, "u-1", task.ID, "ada", "looks good")
	if err != nil {
		t.Fatalf("Comment failed: %v", err)
	}
	if c.Source != types.SourceLocal {
		t.Errorf("comment source = %s", c.Source)
	}
	if _, err := s.Comment(ctx, "u-1", task.ID, "ada", "  "); !errors.Is(err, types.ErrInvalidTask) {
		t.Errorf("empty comment: got %v", err)
	}
	stored, _ := s.Get(ctx, "u-1", task.ID)
	if len(stored.Comments) != 1 {
		t.Errorf("comments = %d, want 1", len(stored.Comments))
	}

	if err := s.Delete(ctx, "u-2", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete by other user: got %v", err)
	}
	if err := s.Delete(ctx, "u-1", task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "u-1", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: got %v", err)
	}
}

// TestEditsWaitForPush holds a push inside CreateItem and checks that an
// edit and a comment made meanwhile land on the linked task instead of
// writing back the local copy.
func TestEditsWaitForPush(t *testing.T) {
	store := memory.New()
	gh := providertest.New(types.ServiceGitHub, "tok")
	gh.AddCollection(provider.CollectionInfo{ID: "r1", Name: "api", Owner: "acme", FullName: "acme/api"})
	engine := sync.New(sync.Config{
		Store:     store,
		Providers: provider.Set{types.ServiceGitHub: gh},
		Logger:    log.New(io.Discard, "", 0),
	})
	s := New(store, engine)
	ctx := context.Background()

	if _, err := engine.Connect(ctx, "u-1", types.ServiceGitHub, "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	task, err := s.Create(ctx, "u-1", NewTask{Title: "Ship it"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	gh.BeforeCreateItem = func(ctx context.Context, c types.Collection) {
		close(entered)
		<-release
	}

	pushed := make(chan error, 1)
	go func() {
		_, err := engine.Push(ctx, task.ID, types.ServiceGitHub, "r1")
		pushed <- err
	}()
	<-entered

	edited := make(chan error, 2)
	go func() {
		title := "Ship it today"
		_, err := s.Update(ctx, "u-1", task.ID, Update{Title: &title})
		edited <- err
	}()
	go func() {
		_, err := s.Comment(ctx, "u-1", task.ID, "ada", "on it")
		edited <- err
	}()

	select {
	case err := <-edited:
		t.Fatalf("edit finished while the push was in flight (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-pushed; err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := <-edited; err != nil {
			t.Fatalf("edit failed: %v", err)
		}
	}
	gh.BeforeCreateItem = nil

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Source != types.SourceGitHub || got.SourceID == "" {
		t.Errorf("link lost: source=%s sourceId=%q", got.Source, got.SourceID)
	}
	if got.Title != "Ship it today" || len(got.Comments) != 1 {
		t.Errorf("edits lost: title=%q comments=%d", got.Title, len(got.Comments))
	}

	res, err := engine.Push(ctx, task.ID, types.ServiceGitHub, "r1")
	if err != nil {
		t.Fatalf("second Push failed: %v", err)
	}
	if !res.NoOp {
		t.Error("second Push should be a no-op")
	}
	if n := gh.CallCount("CreateItem"); n != 1 {
		t.Errorf("CreateItem called %d times, want 1", n)
	}
}
