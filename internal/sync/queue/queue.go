// Package queue provides an in-memory offline store with the same contract
// as the sqlite store. It backs the memory store backend and tests.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/logging"
	"github.com/ecodex/offline/internal/models"
	"github.com/ecodex/offline/internal/uuid"
)

// MemoryStore keeps pending operations and cached entities in process memory.
// Contents do not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]*models.PendingOperation
	order    []string
	entities map[string]*models.CachedEntity
	maxSize  int
	ready    bool
	now      func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxSize unsynced
// operations. A maxSize of zero means no limit.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		items:    make(map[string]*models.PendingOperation),
		entities: make(map[string]*models.CachedEntity),
		maxSize:  maxSize,
		now:      time.Now,
	}
}

// Initialize marks the store ready. It is idempotent.
func (q *MemoryStore) Initialize(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = true
	return nil
}

// Close is a no-op kept for parity with the sqlite store.
func (q *MemoryStore) Close() error {
	return nil
}

// EnqueueOperation adds an unsynced operation.
func (q *MemoryStore) EnqueueOperation(ctx context.Context, payload json.RawMessage) (*models.PendingOperation, error) {
	if !json.Valid(payload) {
		return nil, apperrors.New(apperrors.ErrInvalid, "payload must be valid JSON")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return nil, apperrors.New(apperrors.ErrStorageUnavailable, "offline store is not initialized")
	}
	if q.maxSize > 0 && q.unsyncedLocked() >= q.maxSize {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("queue is full (max size: %d)", q.maxSize))
	}

	now := q.now()
	op := &models.PendingOperation{
		ID:         uuid.NewOperationID(now),
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: time.UnixMilli(now.UnixMilli()),
	}
	q.items[op.ID] = op
	q.order = append(q.order, op.ID)

	logging.Debug("Enqueued offline operation", map[string]interface{}{"id": op.ID})

	return op.Clone(), nil
}

func (q *MemoryStore) unsyncedLocked() int {
	n := 0
	for _, op := range q.items {
		if !op.Synced {
			n++
		}
	}
	return n
}

// ListPendingOperations returns copies of unsynced operations in enqueue order.
func (q *MemoryStore) ListPendingOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	return q.list(func(op *models.PendingOperation) bool { return !op.Synced })
}

// ListOperations returns copies of every operation in enqueue order.
func (q *MemoryStore) ListOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	return q.list(func(*models.PendingOperation) bool { return true })
}

func (q *MemoryStore) list(keep func(*models.PendingOperation) bool) ([]*models.PendingOperation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.ready {
		return nil, apperrors.New(apperrors.ErrStorageUnavailable, "offline store is not initialized")
	}

	var ops []*models.PendingOperation
	for _, id := range q.order {
		if op := q.items[id]; keep(op) {
			ops = append(ops, op.Clone())
		}
	}
	return ops, nil
}

// GetOperation returns a copy of a single operation.
func (q *MemoryStore) GetOperation(ctx context.Context, id string) (*models.PendingOperation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	op, ok := q.items[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}
	return op.Clone(), nil
}

// MarkSynced flags an operation as acknowledged. Unknown and already synced
// ids are a no-op.
func (q *MemoryStore) MarkSynced(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.items[id]
	if !ok || op.Synced {
		return nil
	}
	now := time.UnixMilli(q.now().UnixMilli())
	op.Synced = true
	op.SyncedAt = &now
	op.LastError = ""
	return nil
}

// RecordFailure counts a failed submission and stores the next attempt time.
func (q *MemoryStore) RecordFailure(ctx context.Context, id string, reason string, nextAttempt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.items[id]
	if !ok || op.Synced {
		return nil
	}
	op.Attempts++
	op.LastError = reason
	op.NextAttemptAt = nextAttempt
	return nil
}

// PurgeSynced removes synced operations acknowledged before the cutoff.
func (q *MemoryStore) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed int64
	kept := q.order[:0]
	for _, id := range q.order {
		op := q.items[id]
		if op.Synced && (op.SyncedAt == nil || op.SyncedAt.Before(before)) {
			delete(q.items, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept

	if removed > 0 {
		logging.Info("Purged synced operations", map[string]interface{}{"count": removed})
	}
	return removed, nil
}

// CacheEntity inserts or overwrites a reference entity.
func (q *MemoryStore) CacheEntity(ctx context.Context, entity *models.CachedEntity) error {
	if entity == nil || entity.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "entity id is required")
	}
	if !json.Valid(entity.Data) {
		return apperrors.New(apperrors.ErrInvalid, "entity data must be valid JSON")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return apperrors.New(apperrors.ErrStorageUnavailable, "offline store is not initialized")
	}
	entity.UpdatedAt = time.UnixMilli(q.now().UnixMilli())
	stored := *entity
	stored.Data = append(json.RawMessage(nil), entity.Data...)
	q.entities[entity.ID] = &stored
	return nil
}

// ListCachedEntities returns copies of every cached entity ordered by id.
func (q *MemoryStore) ListCachedEntities(ctx context.Context) ([]*models.CachedEntity, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.ready {
		return nil, apperrors.New(apperrors.ErrStorageUnavailable, "offline store is not initialized")
	}

	entities := make([]*models.CachedEntity, 0, len(q.entities))
	for _, e := range q.entities {
		c := *e
		c.Data = append(json.RawMessage(nil), e.Data...)
		entities = append(entities, &c)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

// Stats returns queue counters.
func (q *MemoryStore) Stats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"total":    len(q.items),
		"pending":  0,
		"synced":   0,
		"entities": len(q.entities),
	}
	for _, op := range q.items {
		if op.Synced {
			stats["synced"]++
		} else {
			stats["pending"]++
		}
	}
	return stats
}
