// Package provider defines the contract between the sync engine and the
// external services tasks are synced with.
//
// Each service lives in its own subpackage (github, trello) and registers
// itself on import:
//
//	import _ "github.com/bliqhq/bliq/internal/provider/github"
//
//	p, err := provider.New(types.ServiceGitHub, provider.Options{})
//
// Providers speak the service's wire format and hand the engine
// service-neutral values (ExternalItem, CollectionInfo). They never touch
// the store.
package provider

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/bliqhq/bliq/internal/types"
)

// DefaultTimeout bounds every outbound call unless Options.Timeout is set.
const DefaultTimeout = 15 * time.Second

// Provider is implemented once per external service.
type Provider interface {
	// Service identifies the implementation.
	Service() types.Service

	// WhoAmI validates token and returns the account it belongs to.
	WhoAmI(ctx context.Context, token string) (*Account, error)

	// ListCollections returns the repositories or boards visible to token.
	ListCollections(ctx context.Context, token string) ([]CollectionInfo, error)

	// ListItems fetches one best-effort page of items from a collection.
	ListItems(ctx context.Context, token string, c types.Collection) ([]ExternalItem, error)

	// CreateItem creates an item from a local task.
	CreateItem(ctx context.Context, token string, c types.Collection, item NewItem) (*CreatedItem, error)

	// UpdateItemState opens or closes an item and replaces its labels.
	UpdateItemState(ctx context.Context, token string, c types.Collection, ref string, state ItemState, labels []string) error

	// AddComment posts a comment on an item.
	AddComment(ctx context.Context, token string, c types.Collection, ref, text string) error
}

// Account is the identity behind a token.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// CollectionInfo describes a repository or board offered for selection.
type CollectionInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

// Collection converts the listing entry into the persisted selection form.
func (c CollectionInfo) Collection() types.Collection {
	return types.Collection{ID: c.ID, Owner: c.Owner, Name: c.Name, FullName: c.FullName}
}

// ExternalItem is an issue or card in service-neutral form.
type ExternalItem struct {
	// ID is the globally stable identifier used for de-duplication.
	ID string
	// Ref addresses the item in later mutations (issue number, card id).
	Ref    string
	Title  string
	Body   string
	Closed bool
	Labels []string
	// IsPullRequest marks GitHub pull requests, which are never imported.
	IsPullRequest bool
}

// NewItem is the payload for CreateItem.
type NewItem struct {
	Title  string
	Body   string
	Labels []string
}

// CreatedItem identifies an item created by CreateItem.
type CreatedItem struct {
	ID  string
	Ref string
	URL string
}

// ItemState is the open/closed state of an external item.
type ItemState string

const (
	ItemOpen   ItemState = "open"
	ItemClosed ItemState = "closed"
)

// StateFor maps a task status to the external item state.
func StateFor(s types.Status) ItemState {
	if s == types.StatusDone {
		return ItemClosed
	}
	return ItemOpen
}

// Options configures a provider instance.
type Options struct {
	// BaseURL overrides the service's API root (tests, enterprise hosts).
	BaseURL string
	// APIKey is the application key some services require besides the
	// user token (Trello).
	APIKey string
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient is the base client. Nil builds one with Timeout.
	HTTPClient *http.Client
	// Logger receives request failures. Nil logs to stderr.
	Logger *log.Logger
}

// Normalize fills defaults. defaultBase is the service's public API root.
func (o Options) Normalize(defaultBase, logPrefix string) Options {
	if o.BaseURL == "" {
		o.BaseURL = defaultBase
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, logPrefix, log.LstdFlags)
	}
	return o
}
