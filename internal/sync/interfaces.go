// Package sync drains the durable offline queue against the remote service.
package sync

import (
	"context"
	"time"

	"github.com/ecodex/offline/internal/connectivity"
	"github.com/ecodex/offline/internal/models"
)

// Store is the part of the durable store the coordinator needs.
// Both the sqlite store and the in-memory queue satisfy it.
type Store interface {
	// ListPendingOperations returns a snapshot of unsynced operations in enqueue order.
	ListPendingOperations(ctx context.Context) ([]*models.PendingOperation, error)

	// MarkSynced flags an operation as acknowledged. It must be idempotent.
	MarkSynced(ctx context.Context, id string) error

	// RecordFailure stores a failed attempt and the earliest next attempt.
	RecordFailure(ctx context.Context, id string, reason string, nextAttempt time.Time) error
}

// Submitter delivers one operation to the remote service. A nil error means
// the server confirmed it.
type Submitter interface {
	Submit(ctx context.Context, op *models.PendingOperation) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, op *models.PendingOperation) error

// Submit calls f(ctx, op).
func (f SubmitterFunc) Submit(ctx context.Context, op *models.PendingOperation) error {
	return f(ctx, op)
}

// Connectivity is the part of the connectivity monitor the coordinator needs.
type Connectivity interface {
	IsOnline() bool
	Subscribe(l connectivity.Listener) (unsubscribe func())
}
