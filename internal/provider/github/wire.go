package github

import (
	"strconv"

	"github.com/bliqhq/bliq/internal/provider"
)

// GitHubUser is the subset of GET /user the provider reads.
type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

// GitHubRepo is one entry of GET /user/repos.
type GitHubRepo struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	FullName string     `json:"full_name"`
	Private  bool       `json:"private"`
	Owner    GitHubUser `json:"owner"`
}

// GitHubLabel is an issue label.
type GitHubLabel struct {
	Name string `json:"name"`
}

// GitHubIssue is one entry of the issues listing. PullRequest is set only
// for pull requests, which the issues endpoint also returns.
type GitHubIssue struct {
	ID          int64         `json:"id"`
	Number      int           `json:"number"`
	Title       string        `json:"title"`
	Body        *string       `json:"body"`
	State       string        `json:"state"`
	HTMLURL     string        `json:"html_url"`
	Labels      []GitHubLabel `json:"labels"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

type createIssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

type updateIssueRequest struct {
	State  string   `json:"state"`
	Labels []string `json:"labels"`
}

type commentRequest struct {
	Body string `json:"body"`
}

// issueToItem maps an issue onto the neutral item shape. The issue id is
// the dedup key; the number addresses the issue in later calls.
func issueToItem(is GitHubIssue) provider.ExternalItem {
	body := ""
	if is.Body != nil {
		body = *is.Body
	}
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		if l.Name != "" {
			labels = append(labels, l.Name)
		}
	}
	return provider.ExternalItem{
		ID:            strconv.FormatInt(is.ID, 10),
		Ref:           strconv.Itoa(is.Number),
		Title:         is.Title,
		Body:          body,
		Closed:        is.State == "closed",
		Labels:        labels,
		IsPullRequest: is.PullRequest != nil,
	}
}

func repoToCollection(r GitHubRepo) provider.CollectionInfo {
	return provider.CollectionInfo{
		ID:       strconv.FormatInt(r.ID, 10),
		Name:     r.Name,
		Owner:    r.Owner.Login,
		FullName: r.FullName,
		Private:  r.Private,
	}
}
