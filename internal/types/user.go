package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// User is a local account that owns tasks and integrations.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// QueueAction is the kind of pending mutation held in the sync queue.
type QueueAction string

const (
	QueueCreate QueueAction = "create"
	QueueUpdate QueueAction = "update"
	QueueDelete QueueAction = "delete"
)

// QueueEntry is a local mutation not yet confirmed on the external side.
type QueueEntry struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Action     QueueAction     `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Validate checks the entry before it is persisted.
func (e *QueueEntry) Validate() error {
	if e.ID == "" || e.UserID == "" || e.EntityID == "" {
		return fmt.Errorf("queue entry requires id, user_id and entity_id")
	}
	switch e.Action {
	case QueueCreate, QueueUpdate, QueueDelete:
	default:
		return fmt.Errorf("invalid queue action %q", e.Action)
	}
	if e.EntityType == "" {
		return fmt.Errorf("queue entry requires entity_type")
	}
	return nil
}
