package sync

import "time"

// SyncEventType identifies a coordinator notification.
type SyncEventType string

const (
	SyncEventStarted         SyncEventType = "sync.started"
	SyncEventOperationSynced SyncEventType = "sync.operation_synced"
	SyncEventOperationFailed SyncEventType = "sync.operation_failed"
	SyncEventCompleted       SyncEventType = "sync.completed"
	SyncEventFailed          SyncEventType = "sync.failed"
)

// SyncEvent is delivered to the SyncEventHandler while a drain runs.
type SyncEvent struct {
	Type        SyncEventType `json:"type"`
	OperationID string        `json:"operation_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	Result      *DrainResult  `json:"result,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// SyncEventHandler receives sync notifications. Handlers are called
// synchronously from the draining goroutine and should return quickly.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}
