package sync

import "github.com/bliqhq/bliq/internal/types"

// Notifier receives events as the engine changes tasks. Implementations
// must not block; the dashboard hands events to its broadcast channel.
type Notifier interface {
	TaskImported(task *types.Task)
	TaskPushed(task *types.Task)
	StatusChanged(task *types.Task, from types.Status)
	SyncCompleted(userID string, result *PullResult)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) TaskImported(*types.Task) {}
func (NopNotifier) TaskPushed(*types.Task) {}
func (NopNotifier) StatusChanged(*types.Task, types.Status) {}
func (NopNotifier) SyncCompleted(string, *PullResult) {}
