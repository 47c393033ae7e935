package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/models"
	"github.com/ecodex/offline/internal/uuid"
)

// Store is the durable offline store: the pending operation queue and the
// cached reference entities, both kept in one sqlite database.
type Store struct {
	dataDir string
	now     func() time.Time

	mu sync.Mutex
	db *DB
}

// NewStore creates a Store rooted at dataDir. Nothing is opened until Initialize.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir, now: time.Now}
}

// Initialize opens the database and applies migrations. It is idempotent.
// Failures are reported as STORAGE_UNAVAILABLE; callers are expected to
// continue without an offline queue.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	database, err := Open(s.dataDir)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "open offline store", err)
	}

	migrator := NewEmbeddedMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "initialize migrations", err)
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "apply migrations", err)
	}

	s.db = database
	return nil
}

// Close closes the database. The store may be initialized again afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, apperrors.New(apperrors.ErrStorageUnavailable, "offline store is not initialized")
	}
	return s.db, nil
}

// =====================================================
// Pending Operations
// =====================================================

const operationColumns = `id, payload, enqueued_at, synced, synced_at, attempts, last_error, next_attempt_at`

// EnqueueOperation stores payload as a new unsynced operation.
// The insert is a single statement, so a record is either fully written or absent.
func (s *Store) EnqueueOperation(ctx context.Context, payload json.RawMessage) (*models.PendingOperation, error) {
	if !json.Valid(payload) {
		return nil, apperrors.New(apperrors.ErrInvalid, "payload must be valid JSON")
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	now := s.now()
	op := &models.PendingOperation{
		ID:         uuid.NewOperationID(now),
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: time.UnixMilli(now.UnixMilli()),
	}

	query := `INSERT INTO pending_operations (id, payload, enqueued_at, synced) VALUES (?, ?, ?, 0)`
	if _, err := db.ExecContext(ctx, query, op.ID, string(op.Payload), op.EnqueuedAt.UnixMilli()); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "enqueue operation", err)
	}
	return op, nil
}

// ListPendingOperations returns a snapshot of unsynced operations in enqueue order.
func (s *Store) ListPendingOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	return s.queryOperations(ctx, `SELECT `+operationColumns+` FROM pending_operations
		WHERE synced = 0 ORDER BY enqueued_at, rowid`)
}

// ListOperations returns every stored operation, synced ones included.
func (s *Store) ListOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	return s.queryOperations(ctx, `SELECT `+operationColumns+` FROM pending_operations
		ORDER BY enqueued_at, rowid`)
}

// GetOperation returns a single operation or NOT_FOUND.
func (s *Store) GetOperation(ctx context.Context, id string) (*models.PendingOperation, error) {
	ops, err := s.queryOperations(ctx, `SELECT `+operationColumns+` FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}
	return ops[0], nil
}

func (s *Store) queryOperations(ctx context.Context, query string, args ...interface{}) ([]*models.PendingOperation, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list operations", err)
	}
	defer rows.Close()

	var ops []*models.PendingOperation
	for rows.Next() {
		var (
			op                   models.PendingOperation
			payload              string
			enqueuedAt, nextAtMs int64
			synced               int
			syncedAt             sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &payload, &enqueuedAt, &synced, &syncedAt,
			&op.Attempts, &op.LastError, &nextAtMs); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan operation", err)
		}
		op.Payload = json.RawMessage(payload)
		op.EnqueuedAt = time.UnixMilli(enqueuedAt)
		op.Synced = synced == 1
		if syncedAt.Valid {
			t := time.UnixMilli(syncedAt.Int64)
			op.SyncedAt = &t
		}
		if nextAtMs > 0 {
			op.NextAttemptAt = time.UnixMilli(nextAtMs)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "iterate operations", err)
	}
	return ops, nil
}

// MarkSynced flags an operation as acknowledged by the server.
// Unknown and already synced ids are a no-op.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	query := `UPDATE pending_operations SET synced = 1, synced_at = ?, last_error = ''
		WHERE id = ? AND synced = 0`
	if _, err := db.ExecContext(ctx, query, s.now().UnixMilli(), id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "mark operation synced", err)
	}
	return nil
}

// RecordFailure counts a failed submission and stores when the operation
// may be tried again. Synced and unknown ids are a no-op.
func (s *Store) RecordFailure(ctx context.Context, id string, reason string, nextAttempt time.Time) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	var nextMs int64
	if !nextAttempt.IsZero() {
		nextMs = nextAttempt.UnixMilli()
	}
	query := `UPDATE pending_operations SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?
		WHERE id = ? AND synced = 0`
	if _, err := db.ExecContext(ctx, query, reason, nextMs, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "record operation failure", err)
	}
	return nil
}

// PurgeSynced deletes synced operations acknowledged before the cutoff.
// Unsynced rows are never touched.
func (s *Store) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM pending_operations
		WHERE synced = 1 AND COALESCE(synced_at, 0) < ?`, before.UnixMilli())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "purge synced operations", err)
	}
	return res.RowsAffected()
}

// =====================================================
// Cached Entities
// =====================================================

// CacheEntity inserts or overwrites a reference entity.
func (s *Store) CacheEntity(ctx context.Context, entity *models.CachedEntity) error {
	if entity == nil || entity.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "entity id is required")
	}
	if !json.Valid(entity.Data) {
		return apperrors.New(apperrors.ErrInvalid, "entity data must be valid JSON")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	entity.UpdatedAt = time.UnixMilli(s.now().UnixMilli())
	query := `INSERT INTO cached_entities (id, name, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, data = excluded.data, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, entity.ID, entity.Name, string(entity.Data), entity.UpdatedAt.UnixMilli()); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "cache entity", err)
	}
	return nil
}

// ListCachedEntities returns every cached entity ordered by id.
func (s *Store) ListCachedEntities(ctx context.Context) ([]*models.CachedEntity, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, name, data, updated_at FROM cached_entities ORDER BY id`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list cached entities", err)
	}
	defer rows.Close()

	var entities []*models.CachedEntity
	for rows.Next() {
		var (
			e         models.CachedEntity
			data      string
			updatedAt int64
		)
		if err := rows.Scan(&e.ID, &e.Name, &data, &updatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan cached entity", err)
		}
		e.Data = json.RawMessage(data)
		e.UpdatedAt = time.UnixMilli(updatedAt)
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "iterate cached entities", err)
	}
	return entities, nil
}
