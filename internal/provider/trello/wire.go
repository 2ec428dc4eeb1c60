package trello

import "github.com/bliqhq/bliq/internal/provider"

// TrelloMember is the subset of GET /1/members/me the provider reads.
type TrelloMember struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// TrelloBoard is one entry of GET /1/members/me/boards.
type TrelloBoard struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Closed         bool   `json:"closed"`
	URL            string `json:"url"`
	IDOrganization string `json:"idOrganization"`
	Prefs          struct {
		PermissionLevel string `json:"permissionLevel"`
	} `json:"prefs"`
}

// TrelloList is a column on a board.
type TrelloList struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Closed bool   `json:"closed"`
}

// TrelloLabel is a board label.
type TrelloLabel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// TrelloCard is one card of a board.
type TrelloCard struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Desc    string        `json:"desc"`
	Closed  bool          `json:"closed"`
	IDList  string        `json:"idList"`
	IDBoard string        `json:"idBoard"`
	URL     string        `json:"url"`
	Labels  []TrelloLabel `json:"labels"`
	// IDLabels is only filled when requested with fields=idLabels.
	IDLabels []string `json:"idLabels"`
}

type createCardRequest struct {
	IDList   string `json:"idList"`
	Name     string `json:"name"`
	Desc     string `json:"desc"`
	IDLabels string `json:"idLabels,omitempty"`
}

type updateCardRequest struct {
	Closed *bool `json:"closed,omitempty"`
	// IDLabels is omitted when the labels stay as they are; "" clears them.
	IDLabels *string `json:"idLabels,omitempty"`
}

type commentRequest struct {
	Text string `json:"text"`
}

// cardToItem maps a card onto the neutral item shape. Card ids serve as
// both the dedup key and the mutation handle.
func cardToItem(c TrelloCard) provider.ExternalItem {
	labels := make([]string, 0, len(c.Labels))
	for _, l := range c.Labels {
		if l.Name != "" {
			labels = append(labels, l.Name)
		}
	}
	return provider.ExternalItem{
		ID:     c.ID,
		Ref:    c.ID,
		Title:  c.Name,
		Body:   c.Desc,
		Closed: c.Closed,
		Labels: labels,
	}
}

func boardToCollection(b TrelloBoard) provider.CollectionInfo {
	return provider.CollectionInfo{
		ID:       b.ID,
		Name:     b.Name,
		Owner:    b.IDOrganization,
		FullName: b.Name,
		Private:  b.Prefs.PermissionLevel == "private",
	}
}
