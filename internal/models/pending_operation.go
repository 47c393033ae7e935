// Package models provides data model definitions for the offline engine.
package models

import (
	"encoding/json"
	"time"
)

// PendingOperation represents a write performed offline and queued for the server.
type PendingOperation struct {
	ID            string          `db:"id" json:"id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt    time.Time       `db:"enqueued_at" json:"enqueued_at"`
	Synced        bool            `db:"synced" json:"synced"`
	SyncedAt      *time.Time      `db:"synced_at" json:"synced_at,omitempty"`
	Attempts      int             `db:"attempts" json:"attempts"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time       `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
}

// TableName returns the table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending_operations"
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (op *PendingOperation) Clone() *PendingOperation {
	c := *op
	c.Payload = append(json.RawMessage(nil), op.Payload...)
	if op.SyncedAt != nil {
		t := *op.SyncedAt
		c.SyncedAt = &t
	}
	return &c
}

// ReadyAt reports whether the operation may be submitted at now.
func (op *PendingOperation) ReadyAt(now time.Time) bool {
	return !op.Synced && !op.NextAttemptAt.After(now)
}
