package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/storage/memory"
	"github.com/bliqhq/bliq/internal/types"
)

func TestUpsert_KeepsIdentity(t *testing.T) {
	store := memory.New()
	reg := New(store)
	ctx := context.Background()

	first := &types.Integration{UserID: "u-1", Service: types.ServiceGitHub, Token: "old"}
	if err := reg.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("Upsert() did not assign an id")
	}

	reg.now = func() time.Time { return first.CreatedAt.Add(time.Hour) }
	second := &types.Integration{UserID: "u-1", Service: types.ServiceGitHub, Token: "new"}
	if err := reg.Upsert(ctx, second); err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("id changed: %s -> %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed")
	}

	all, err := store.IntegrationsByUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("IntegrationsByUser() failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d integrations, want 1", len(all))
	}
	if all[0].Token != "new" {
		t.Errorf("Token = %q, want new", all[0].Token)
	}
}

func TestGet_Absent(t *testing.T) {
	reg := New(memory.New())

	in, err := reg.Get(context.Background(), "u-1", types.ServiceTrello)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if in != nil {
		t.Errorf("Get() = %+v, want nil", in)
	}
}

func TestSelectCollections(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	_, err := reg.SelectCollections(ctx, "u-1", types.ServiceGitHub, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SelectCollections() without integration error = %v, want ErrNotConnected", err)
	}

	if err := reg.Upsert(ctx, &types.Integration{UserID: "u-1", Service: types.ServiceGitHub, Token: "tok"}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	picks := []types.Collection{
		{ID: "2", Name: "web"},
		{ID: "1", Name: "api"},
		{ID: "2", Name: "web"},
	}
	in, err := reg.SelectCollections(ctx, "u-1", types.ServiceGitHub, picks)
	if err != nil {
		t.Fatalf("SelectCollections() failed: %v", err)
	}
	if len(in.SelectedRepos) != 2 || in.SelectedRepos[0].ID != "2" || in.SelectedRepos[1].ID != "1" {
		t.Errorf("SelectedRepos = %+v", in.SelectedRepos)
	}

	selected, err := reg.Selected(ctx, "u-1", types.ServiceGitHub)
	if err != nil {
		t.Fatalf("Selected() failed: %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("Selected() = %d, want 2", len(selected))
	}

	// Reconnecting keeps the selection the caller passes in, not the old one.
	if err := reg.Upsert(ctx, &types.Integration{UserID: "u-1", Service: types.ServiceGitHub, Token: "tok2", SelectedRepos: selected}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	selected, _ = reg.Selected(ctx, "u-1", types.ServiceGitHub)
	if len(selected) != 2 {
		t.Errorf("selection lost on reconnect")
	}
}

func TestList_ServiceOrder(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	for _, svc := range []types.Service{types.ServiceTrello, types.ServiceGitHub} {
		if err := reg.Upsert(ctx, &types.Integration{UserID: "u-1", Service: svc, Token: "tok"}); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", svc, err)
		}
	}

	list, err := reg.List(ctx, "u-1")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 2 || list[0].Service != types.ServiceGitHub || list[1].Service != types.ServiceTrello {
		t.Errorf("List() order = %v", list)
	}

	if err := reg.Disconnect(ctx, "u-1", types.ServiceTrello); err != nil {
		t.Fatalf("Disconnect() failed: %v", err)
	}
	list, _ = reg.List(ctx, "u-1")
	if len(list) != 1 {
		t.Errorf("List() after disconnect = %d, want 1", len(list))
	}
}

// barrierStore holds IntegrationsByUser until n callers have arrived, so
// every caller sees the same (empty) state.
type barrierStore struct {
	storage.Store
	arrive sync.WaitGroup
}

func (b *barrierStore) IntegrationsByUser(ctx context.Context, userID string) ([]*types.Integration, error) {
	list, err := b.Store.IntegrationsByUser(ctx, userID)
	b.arrive.Done()
	b.arrive.Wait()
	return list, err
}

func TestUpsert_ConcurrentKeepsOneRecord(t *testing.T) {
	mem := memory.New()
	store := &barrierStore{Store: mem}
	store.arrive.Add(2)
	reg := New(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, token := range []string{"tok-a", "tok-b"} {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			errs[i] = reg.Upsert(ctx, &types.Integration{UserID: "u-1", Service: types.ServiceGitHub, Token: token})
		}(i, token)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}
	all, err := mem.IntegrationsByUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("IntegrationsByUser() failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d github integrations, want 1", len(all))
	}
}
