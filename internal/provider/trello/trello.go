// Package trello implements provider.Provider against the Trello REST API.
//
// Boards are collections and cards are items. Trello authenticates with an
// application key plus a user token; both travel in the OAuth-style
// Authorization header so neither appears in request URLs or logs.
package trello

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/types"
)

// DefaultBaseURL is the public Trello API root.
const DefaultBaseURL = "https://api.trello.com"

// ErrNoAPIKey is returned when no application key is configured.
var ErrNoAPIKey = errors.New("trello api key is not configured")

func init() {
	provider.Register(types.ServiceTrello, func(opts provider.Options) (provider.Provider, error) {
		return New(opts), nil
	})
}

// Provider talks to the Trello API.
type Provider struct {
	apiKey string
	client *provider.Client
}

var _ provider.Provider = (*Provider)(nil)

// New builds a Trello provider. opts.APIKey is the application key.
func New(opts provider.Options) *Provider {
	opts = opts.Normalize(DefaultBaseURL, "[trello] ")
	base := opts.HTTPClient
	apiKey := opts.APIKey

	return &Provider{
		apiKey: apiKey,
		client: &provider.Client{
			Service:    types.ServiceTrello,
			BaseURL:    opts.BaseURL,
			Timeout:    opts.Timeout,
			UserAgent:  "bliq",
			Logger:     opts.Logger,
			HTTPClient: func(context.Context, string) *http.Client { return base },
			Authorize: func(req *http.Request, token string) {
				req.Header.Set("Authorization",
					fmt.Sprintf(`OAuth oauth_consumer_key="%s", oauth_token="%s"`, apiKey, token))
			},
		},
	}
}

// Service returns types.ServiceTrello.
func (p *Provider) Service() types.Service {
	return types.ServiceTrello
}

func (p *Provider) do(ctx context.Context, token, method, path string, q url.Values, in, out any) error {
	if p.apiKey == "" {
		return fmt.Errorf("%w: %w", provider.ErrUnauthorized, ErrNoAPIKey)
	}
	return p.client.Do(ctx, token, method, path, q, in, out)
}

// WhoAmI calls GET /1/members/me.
func (p *Provider) WhoAmI(ctx context.Context, token string) (*provider.Account, error) {
	var m TrelloMember
	if err := p.do(ctx, token, http.MethodGet, "/1/members/me", nil, nil, &m); err != nil {
		return nil, err
	}
	return &provider.Account{ID: m.ID, Username: m.Username, Name: m.FullName}, nil
}

// ListCollections returns the member's open boards.
func (p *Provider) ListCollections(ctx context.Context, token string) ([]provider.CollectionInfo, error) {
	q := url.Values{}
	q.Set("filter", "open")

	var boards []TrelloBoard
	if err := p.do(ctx, token, http.MethodGet, "/1/members/me/boards", q, nil, &boards); err != nil {
		return nil, err
	}

	out := make([]provider.CollectionInfo, 0, len(boards))
	for _, b := range boards {
		out = append(out, boardToCollection(b))
	}
	return out, nil
}

// ListItems returns every card on the board, archived ones included.
func (p *Provider) ListItems(ctx context.Context, token string, c types.Collection) ([]provider.ExternalItem, error) {
	q := url.Values{}
	q.Set("filter", "all")

	var cards []TrelloCard
	if err := p.do(ctx, token, http.MethodGet, "/1/boards/"+url.PathEscape(c.ID)+"/cards", q, nil, &cards); err != nil {
		return nil, err
	}

	items := make([]provider.ExternalItem, 0, len(cards))
	for _, card := range cards {
		items = append(items, cardToItem(card))
	}
	return items, nil
}

// CreateItem adds a card to the board's first open list. Tags that match
// board label names are attached; others are dropped.
func (p *Provider) CreateItem(ctx context.Context, token string, c types.Collection, item provider.NewItem) (*provider.CreatedItem, error) {
	q := url.Values{}
	q.Set("filter", "open")

	var lists []TrelloList
	if err := p.do(ctx, token, http.MethodGet, "/1/boards/"+url.PathEscape(c.ID)+"/lists", q, nil, &lists); err != nil {
		return nil, err
	}
	if len(lists) == 0 {
		return nil, fmt.Errorf("trello: board %s has no open list: %w", c.ID, provider.ErrUnsupported)
	}

	labelIDs, err := p.resolveLabels(ctx, token, c.ID, item.Labels)
	if err != nil {
		return nil, err
	}

	req := createCardRequest{
		IDList:   lists[0].ID,
		Name:     item.Title,
		Desc:     item.Body,
		IDLabels: strings.Join(labelIDs, ","),
	}
	var card TrelloCard
	if err := p.do(ctx, token, http.MethodPost, "/1/cards", nil, req, &card); err != nil {
		return nil, err
	}
	return &provider.CreatedItem{ID: card.ID, Ref: card.ID, URL: card.URL}, nil
}

// UpdateItemState archives or restores the card and moves its workflow
// labels. Labels on the card that are not todo, in-progress or done are
// kept, including color-only ones; requested labels that exist on the
// board are added. idLabels is only sent when the set changes.
func (p *Provider) UpdateItemState(ctx context.Context, token string, c types.Collection, ref string, state provider.ItemState, labels []string) error {
	var boardLabels []TrelloLabel
	if err := p.do(ctx, token, http.MethodGet, "/1/boards/"+url.PathEscape(c.ID)+"/labels", nil, nil, &boardLabels); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("fields", "idLabels")
	var card TrelloCard
	if err := p.do(ctx, token, http.MethodGet, "/1/cards/"+url.PathEscape(ref), q, nil, &card); err != nil {
		return err
	}

	closed := state == provider.ItemClosed
	req := updateCardRequest{Closed: &closed}
	if next, changed := mergeLabels(card.IDLabels, boardLabels, labels); changed {
		joined := strings.Join(next, ",")
		req.IDLabels = &joined
	}
	return p.do(ctx, token, http.MethodPut, "/1/cards/"+url.PathEscape(ref), nil, req, nil)
}

// mergeLabels drops workflow labels from current and adds the ids of the
// wanted names that exist on the board. It reports whether the result
// differs from current.
func mergeLabels(current []string, board []TrelloLabel, wanted []string) ([]string, bool) {
	byName := labelIndex(board)
	workflow := make(map[string]bool, 3)
	for _, s := range []types.Status{types.StatusTodo, types.StatusInProgress, types.StatusDone} {
		if id, ok := byName[string(s)]; ok {
			workflow[id] = true
		}
	}

	has := make(map[string]bool, len(current))
	next := make([]string, 0, len(current)+len(wanted))
	for _, id := range current {
		if !workflow[id] && !has[id] {
			has[id] = true
			next = append(next, id)
		}
	}
	for _, n := range wanted {
		if id, ok := byName[strings.ToLower(n)]; ok && !has[id] {
			has[id] = true
			next = append(next, id)
		}
	}

	if len(next) != len(current) {
		return next, true
	}
	for i := range next {
		if next[i] != current[i] {
			return next, true
		}
	}
	return next, false
}

// labelIndex maps lower-cased label names to ids. Color-only labels have
// no name and are left out.
func labelIndex(labels []TrelloLabel) map[string]string {
	byName := make(map[string]string, len(labels))
	for _, l := range labels {
		if l.Name != "" {
			byName[strings.ToLower(l.Name)] = l.ID
		}
	}
	return byName
}

// AddComment posts a comment action on the card.
func (p *Provider) AddComment(ctx context.Context, token string, c types.Collection, ref, text string) error {
	return p.do(ctx, token, http.MethodPost, "/1/cards/"+url.PathEscape(ref)+"/actions/comments", nil, commentRequest{Text: text}, nil)
}

// resolveLabels maps label names to the board's label ids.
func (p *Provider) resolveLabels(ctx context.Context, token, boardID string, names []string) ([]string, error) {
	if len(names) == 0 {
		return []string{}, nil
	}

	var labels []TrelloLabel
	if err := p.do(ctx, token, http.MethodGet, "/1/boards/"+url.PathEscape(boardID)+"/labels", nil, nil, &labels); err != nil {
		return nil, err
	}

	byName := labelIndex(labels)
	ids := make([]string, 0, len(names))
	for _, n := range names {
		if id, ok := byName[strings.ToLower(n)]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
