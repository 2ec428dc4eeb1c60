package types

import (
	"fmt"
	"strings"
	"time"
)

// Service is an external system tasks can be synced with.
type Service string

const (
	ServiceGitHub Service = "github"
	ServiceTrello Service = "trello"
)

// Services lists every supported service in sync order.
var Services = []Service{ServiceGitHub, ServiceTrello}

// IsValid reports whether s is a supported service.
func (s Service) IsValid() bool {
	return s == ServiceGitHub || s == ServiceTrello
}

// Source returns the task source used for items imported from s.
func (s Service) Source() Source {
	return Source(s)
}

// ParseService converts user input into a Service.
func ParseService(s string) (Service, error) {
	svc := Service(strings.ToLower(strings.TrimSpace(s)))
	if !svc.IsValid() {
		return "", fmt.Errorf("unknown service %q (want github or trello)", s)
	}
	return svc, nil
}

// Collection is an external grouping of items selected for sync:
// a GitHub repository or a Trello board.
type Collection struct {
	ID       string `json:"id" yaml:"id"`
	Owner    string `json:"owner" yaml:"owner"`
	Name     string `json:"name" yaml:"name"`
	FullName string `json:"full_name" yaml:"full_name"`
}

// Integration binds a user's credential to one external service.
type Integration struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Service       Service           `json:"service"`
	Token         string            `json:"-"`
	SelectedRepos []Collection      `json:"selected_repos"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Validate checks the fields the registry relies on.
func (i *Integration) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("integration id is required")
	}
	if i.UserID == "" {
		return fmt.Errorf("integration user_id is required")
	}
	if !i.Service.IsValid() {
		return fmt.Errorf("invalid integration service %q", i.Service)
	}
	if i.Token == "" {
		return fmt.Errorf("integration token is required")
	}
	return nil
}

// FindCollection returns the selected collection with the given id.
func (i *Integration) FindCollection(id string) (Collection, bool) {
	for _, c := range i.SelectedRepos {
		if c.ID == id {
			return c, true
		}
	}
	return Collection{}, false
}
