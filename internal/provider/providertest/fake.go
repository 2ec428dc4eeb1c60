// Package providertest provides an in-memory provider.Provider for tests.
package providertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/types"
)

// Call records one invocation on the fake.
type Call struct {
	Method     string
	Collection string
	Ref        string
	Text       string
	State      provider.ItemState
	Labels     []string
}

// Fake serves canned collections and items. Errors can be injected per
// method, or per method and collection id.
type Fake struct {
	mu sync.Mutex

	service     types.Service
	validToken  string
	account     provider.Account
	collections []provider.CollectionInfo
	items       map[string][]provider.ExternalItem
	errs        map[string]error
	calls       []Call
	nextID      int

	// BeforeListItems, if set, runs at the start of ListItems outside the
	// lock. Tests use it to hold a pull open.
	BeforeListItems func(ctx context.Context, c types.Collection)
	// BeforeCreateItem, if set, runs at the start of CreateItem outside
	// the lock.
	BeforeCreateItem func(ctx context.Context, c types.Collection)
}

var _ provider.Provider = (*Fake)(nil)

// New returns a fake for service that accepts only token.
func New(service types.Service, token string) *Fake {
	return &Fake{
		service:    service,
		validToken: token,
		account:    provider.Account{ID: "1", Username: "tester"},
		items:      make(map[string][]provider.ExternalItem),
		errs:       make(map[string]error),
		nextID:     1000,
	}
}

// AddCollection makes c visible to ListCollections and seeds its items.
func (f *Fake) AddCollection(c provider.CollectionInfo, items ...provider.ExternalItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = append(f.collections, c)
	f.items[c.ID] = append(f.items[c.ID], items...)
}

// SetItems replaces the items of a collection.
func (f *Fake) SetItems(collectionID string, items ...provider.ExternalItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[collectionID] = items
}

// FailOn makes method fail with err. collectionID narrows it to one
// collection; "" matches all.
func (f *Fake) FailOn(method, collectionID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method+"/"+collectionID] = err
}

// ClearFailures removes every injected error.
func (f *Fake) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = make(map[string]error)
}

// RevokeToken makes every later call fail as unauthorized.
func (f *Fake) RevokeToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validToken = ""
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts calls to method.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// check records the call and returns the injected or auth error, if any.
// The caller must hold f.mu.
func (f *Fake) check(token string, call Call) error {
	f.calls = append(f.calls, call)
	if f.validToken == "" || token != f.validToken {
		return &provider.StatusError{Service: f.service, Op: call.Method, Code: 401}
	}
	if err, ok := f.errs[call.Method+"/"+call.Collection]; ok {
		return err
	}
	if err, ok := f.errs[call.Method+"/"]; ok {
		return err
	}
	return nil
}

// Service returns the configured service.
func (f *Fake) Service() types.Service {
	return f.service
}

// WhoAmI returns the canned account.
func (f *Fake) WhoAmI(ctx context.Context, token string) (*provider.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token, Call{Method: "WhoAmI"}); err != nil {
		return nil, err
	}
	acct := f.account
	return &acct, nil
}

// ListCollections returns the added collections.
func (f *Fake) ListCollections(ctx context.Context, token string) ([]provider.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token, Call{Method: "ListCollections"}); err != nil {
		return nil, err
	}
	return append([]provider.CollectionInfo(nil), f.collections...), nil
}

// ListItems returns the collection's items.
func (f *Fake) ListItems(ctx context.Context, token string, c types.Collection) ([]provider.ExternalItem, error) {
	if f.BeforeListItems != nil {
		f.BeforeListItems(ctx, c)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrTimeout, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token, Call{Method: "ListItems", Collection: c.ID}); err != nil {
		return nil, err
	}
	return append([]provider.ExternalItem(nil), f.items[c.ID]...), nil
}

// CreateItem appends a new open item to the collection.
func (f *Fake) CreateItem(ctx context.Context, token string, c types.Collection, item provider.NewItem) (*provider.CreatedItem, error) {
	if f.BeforeCreateItem != nil {
		f.BeforeCreateItem(ctx, c)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token, Call{Method: "CreateItem", Collection: c.ID, Text: item.Title, Labels: item.Labels}); err != nil {
		return nil, err
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	ref := strconv.Itoa(len(f.items[c.ID]) + 1)
	f.items[c.ID] = append(f.items[c.ID], provider.ExternalItem{
		ID:     id,
		Ref:    ref,
		Title:  item.Title,
		Body:   item.Body,
		Labels: append([]string(nil), item.Labels...),
	})
	return &provider.CreatedItem{ID: id, Ref: ref}, nil
}

// UpdateItemState records the new state and labels on the item.
func (f *Fake) UpdateItemState(ctx context.Context, token string, c types.Collection, ref string, state provider.ItemState, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := Call{Method: "UpdateItemState", Collection: c.ID, Ref: ref, State: state, Labels: append([]string(nil), labels...)}
	if err := f.check(token, call); err != nil {
		return err
	}
	for i, it := range f.items[c.ID] {
		if it.Ref == ref {
			f.items[c.ID][i].Closed = state == provider.ItemClosed
			f.items[c.ID][i].Labels = call.Labels
			return nil
		}
	}
	return &provider.StatusError{Service: f.service, Op: "UpdateItemState", Code: 404}
}

// AddComment records the comment.
func (f *Fake) AddComment(ctx context.Context, token string, c types.Collection, ref, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.check(token, Call{Method: "AddComment", Collection: c.ID, Ref: ref, Text: text})
}
