// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// TestTableNames verifies table names match the migrations.
func TestTableNames(t *testing.T) {
	if got := (PendingOperation{}).TableName(); got != "pending_operations" {
		t.Errorf("PendingOperation.TableName() = %q", got)
	}
	if got := (CachedEntity{}).TableName(); got != "cached_entities" {
		t.Errorf("CachedEntity.TableName() = %q", got)
	}
}

// TestPendingOperation_Clone verifies the clone shares no memory with the original.
func TestPendingOperation_Clone(t *testing.T) {
	now := time.Now()
	op := &PendingOperation{ID: "offline_1_abcdef012", Payload: json.RawMessage(`{"species":"oak"}`), SyncedAt: &now}

	c := op.Clone()
	c.Payload[2] = 'X'
	*c.SyncedAt = now.Add(time.Hour)

	if string(op.Payload) != `{"species":"oak"}` {
		t.Errorf("original payload mutated: %s", op.Payload)
	}
	if !op.SyncedAt.Equal(now) {
		t.Error("original SyncedAt mutated")
	}
}

// TestPendingOperation_ReadyAt verifies readiness rules.
func TestPendingOperation_ReadyAt(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		op   PendingOperation
		want bool
	}{
		{"fresh", PendingOperation{}, true},
		{"synced", PendingOperation{Synced: true}, false},
		{"backing off", PendingOperation{NextAttemptAt: now.Add(time.Minute)}, false},
		{"backoff elapsed", PendingOperation{NextAttemptAt: now.Add(-time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.ReadyAt(now); got != tt.want {
				t.Errorf("ReadyAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestEntityFromJSON verifies id and name extraction.
func TestEntityFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantID  string
		wantErr bool
	}{
		{"string id", `{"id":"quercus-robur","name":"Oak"}`, "quercus-robur", false},
		{"numeric id", `{"id":42,"name":"Fern"}`, "42", false},
		{"missing id", `{"name":"Moss"}`, "", true},
		{"empty id", `{"id":""}`, "", true},
		{"bool id", `{"id":true}`, "", true},
		{"not json", `oak`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := EntityFromJSON(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("EntityFromJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && e.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", e.ID, tt.wantID)
			}
		})
	}
}
