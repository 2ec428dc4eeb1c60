package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/types"
)

// TaskUpdateData contains task change information
type TaskUpdateData struct {
	TaskID         string         `json:"task_id"`
	Action         string         `json:"action"` // imported, pushed, status_changed, created, updated, deleted
	Status         types.Status   `json:"status,omitempty"`
	PreviousStatus types.Status   `json:"previous_status,omitempty"`
	Title          string         `json:"title,omitempty"`
	Priority       types.Priority `json:"priority,omitempty"`
	Source         types.Source   `json:"source,omitempty"`
	SourceID       string         `json:"source_id,omitempty"`
}

// SyncCompleteData summarizes a pull pass
type SyncCompleteData struct {
	Inserted           int             `json:"inserted"`
	Skipped            int             `json:"skipped"`
	Excluded           int             `json:"excluded"`
	Failures           []sync.Failure  `json:"failures,omitempty"`
	CredentialFailures []types.Service `json:"credential_failures,omitempty"`
	Duration           time.Duration   `json:"duration"`
}

// Handler formats sync engine and task events as dashboard messages. It
// implements sync.Notifier.
type Handler struct {
	server *Server
	store  storage.Store
	logger *log.Logger
}

var _ sync.Notifier = (*Handler)(nil)

// NewHandler creates a handler that broadcasts through server. store is
// used for stats messages and may be nil.
func NewHandler(server *Server, store storage.Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{server: server, store: store, logger: logger}
	server.welcome = h.statsMessage
	return h
}

// TaskImported is called for each task created by a pull.
func (h *Handler) TaskImported(task *types.Task) {
	h.taskUpdate("imported", task, "")
}

// TaskPushed is called after a local task was linked to an external item.
func (h *Handler) TaskPushed(task *types.Task) {
	h.taskUpdate("pushed", task, "")
	h.broadcastStats(task.UserID)
}

// StatusChanged is called after a status change was committed locally.
func (h *Handler) StatusChanged(task *types.Task, from types.Status) {
	h.logger.Printf("Task %s: %s -> %s", task.ID, from, task.Status)
	h.taskUpdate("status_changed", task, from)
	h.broadcastStats(task.UserID)
}

// SyncCompleted is called at the end of every pull pass.
func (h *Handler) SyncCompleted(userID string, res *sync.PullResult) {
	h.logger.Printf("Sync complete for %s: %d new, %d skipped in %v",
		userID, res.Inserted, res.Skipped, res.Duration.Round(time.Millisecond))

	h.send(MessageTypeSyncComplete, userID, SyncCompleteData{
		Inserted:           res.Inserted,
		Skipped:            res.Skipped,
		Excluded:           res.Excluded,
		Failures:           res.Failures,
		CredentialFailures: res.CredentialFailures(),
		Duration:           res.Duration,
	})
	h.broadcastStats(userID)
}

// TaskCreated, TaskUpdated and TaskDeleted report direct edits.
func (h *Handler) TaskCreated(task *types.Task) {
	h.taskUpdate("created", task, "")
	h.broadcastStats(task.UserID)
}

func (h *Handler) TaskUpdated(task *types.Task) {
	h.taskUpdate("updated", task, "")
}

func (h *Handler) TaskDeleted(userID, taskID string) {
	h.send(MessageTypeTaskUpdate, userID, TaskUpdateData{TaskID: taskID, Action: "deleted"})
	h.broadcastStats(userID)
}

func (h *Handler) taskUpdate(action string, task *types.Task, from types.Status) {
	h.send(MessageTypeTaskUpdate, task.UserID, TaskUpdateData{
		TaskID:         task.ID,
		Action:         action,
		Status:         task.Status,
		PreviousStatus: from,
		Title:          task.Title,
		Priority:       task.Priority,
		Source:         task.Source,
		SourceID:       task.SourceID,
	})
}

func (h *Handler) broadcastStats(userID string) {
	if msg := h.statsMessage(userID); msg != nil {
		h.server.Broadcast(*msg)
	}
}

// statsMessage builds a stats message from the store. It returns nil when
// no user is given or the store is unavailable.
func (h *Handler) statsMessage(userID string) *Message {
	if h.store == nil || userID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats, err := h.store.Stats(ctx, userID)
	if err != nil {
		h.logger.Printf("Warning: failed to load stats for %s: %v", userID, err)
		return nil
	}
	return h.message(MessageTypeStats, userID, stats)
}

func (h *Handler) send(typ MessageType, userID string, data interface{}) {
	if msg := h.message(typ, userID, data); msg != nil {
		h.server.Broadcast(*msg)
	}
}

func (h *Handler) message(typ MessageType, userID string, data interface{}) *Message {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return nil
	}
	return &Message{
		Type:      typ,
		Timestamp: time.Now(),
		UserID:    userID,
		Data:      dataJSON,
	}
}
