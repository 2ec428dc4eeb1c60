// Package github implements provider.Provider against the GitHub REST API.
//
// Repositories are collections and issues are items. Requests authenticate
// with a bearer token through an oauth2 static token source, so personal
// access tokens and OAuth app tokens both work.
//
// Usage:
//
//	import _ "github.com/bliqhq/bliq/internal/provider/github" // registers via init()
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/types"
)

// DefaultBaseURL is the public GitHub API root.
const DefaultBaseURL = "https://api.github.com"

// pageSize is the single best-effort page fetched per listing.
const pageSize = 100

func init() {
	provider.Register(types.ServiceGitHub, func(opts provider.Options) (provider.Provider, error) {
		return New(opts), nil
	})
}

// Provider talks to one GitHub API host.
type Provider struct {
	client *provider.Client
}

var _ provider.Provider = (*Provider)(nil)

// New builds a GitHub provider.
func New(opts provider.Options) *Provider {
	opts = opts.Normalize(DefaultBaseURL, "[github] ")
	base := opts.HTTPClient

	return &Provider{
		client: &provider.Client{
			Service:   types.ServiceGitHub,
			BaseURL:   opts.BaseURL,
			Timeout:   opts.Timeout,
			UserAgent: "bliq",
			Logger:    opts.Logger,
			HTTPClient: func(ctx context.Context, token string) *http.Client {
				ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
				return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
			},
			Authorize: func(req *http.Request, _ string) {
				req.Header.Set("Accept", "application/vnd.github+json")
				req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
			},
		},
	}
}

// Service returns types.ServiceGitHub.
func (p *Provider) Service() types.Service {
	return types.ServiceGitHub
}

// WhoAmI calls GET /user.
func (p *Provider) WhoAmI(ctx context.Context, token string) (*provider.Account, error) {
	var u GitHubUser
	if err := p.client.Do(ctx, token, http.MethodGet, "/user", nil, nil, &u); err != nil {
		return nil, err
	}
	return &provider.Account{
		ID:       strconv.FormatInt(u.ID, 10),
		Username: u.Login,
		Name:     u.Name,
	}, nil
}

// ListCollections returns the most recently updated repositories.
func (p *Provider) ListCollections(ctx context.Context, token string) ([]provider.CollectionInfo, error) {
	q := url.Values{}
	q.Set("sort", "updated")
	q.Set("per_page", strconv.Itoa(pageSize))

	var repos []GitHubRepo
	if err := p.client.Do(ctx, token, http.MethodGet, "/user/repos", q, nil, &repos); err != nil {
		return nil, err
	}

	out := make([]provider.CollectionInfo, 0, len(repos))
	for _, r := range repos {
		out = append(out, repoToCollection(r))
	}
	return out, nil
}

// ListItems fetches open and closed issues of a repository. Pull requests
// are returned flagged so the engine can drop them.
func (p *Provider) ListItems(ctx context.Context, token string, c types.Collection) ([]provider.ExternalItem, error) {
	path, err := repoPath(c)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("state", "all")
	q.Set("per_page", strconv.Itoa(pageSize))

	var issues []GitHubIssue
	if err := p.client.Do(ctx, token, http.MethodGet, path+"/issues", q, nil, &issues); err != nil {
		return nil, err
	}

	items := make([]provider.ExternalItem, 0, len(issues))
	for _, is := range issues {
		items = append(items, issueToItem(is))
	}
	return items, nil
}

// CreateItem opens an issue.
func (p *Provider) CreateItem(ctx context.Context, token string, c types.Collection, item provider.NewItem) (*provider.CreatedItem, error) {
	path, err := repoPath(c)
	if err != nil {
		return nil, err
	}

	labels := item.Labels
	if labels == nil {
		labels = []string{}
	}
	req := createIssueRequest{Title: item.Title, Body: item.Body, Labels: labels}

	var is GitHubIssue
	if err := p.client.Do(ctx, token, http.MethodPost, path+"/issues", nil, req, &is); err != nil {
		return nil, err
	}
	return &provider.CreatedItem{
		ID:  strconv.FormatInt(is.ID, 10),
		Ref: strconv.Itoa(is.Number),
		URL: is.HTMLURL,
	}, nil
}

// UpdateItemState sets the issue state and replaces its labels.
func (p *Provider) UpdateItemState(ctx context.Context, token string, c types.Collection, ref string, state provider.ItemState, labels []string) error {
	path, err := issuePath(c, ref)
	if err != nil {
		return err
	}
	if labels == nil {
		labels = []string{}
	}
	req := updateIssueRequest{State: string(state), Labels: labels}
	return p.client.Do(ctx, token, http.MethodPatch, path, nil, req, nil)
}

// AddComment posts an issue comment.
func (p *Provider) AddComment(ctx context.Context, token string, c types.Collection, ref, text string) error {
	path, err := issuePath(c, ref)
	if err != nil {
		return err
	}
	return p.client.Do(ctx, token, http.MethodPost, path+"/comments", nil, commentRequest{Body: text}, nil)
}

func repoPath(c types.Collection) (string, error) {
	if c.Owner == "" || c.Name == "" {
		return "", fmt.Errorf("github: collection %q needs owner and name", c.ID)
	}
	return "/repos/" + url.PathEscape(c.Owner) + "/" + url.PathEscape(c.Name), nil
}

func issuePath(c types.Collection, ref string) (string, error) {
	path, err := repoPath(c)
	if err != nil {
		return "", err
	}
	if _, err := strconv.Atoi(ref); err != nil {
		return "", fmt.Errorf("github: invalid issue number %q", ref)
	}
	return path + "/issues/" + ref, nil
}
