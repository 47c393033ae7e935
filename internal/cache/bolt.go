package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// BoltFileName is the cache database created inside the data directory.
const BoltFileName = "responses.db"

// BoltStore keeps each generation in its own bucket, so evicting a
// generation is a single bucket delete.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens a BoltDB-backed store at the provided path.
func OpenBolt(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying BoltDB database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Get(ctx context.Context, generation, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(generation))
		if bucket == nil {
			return nil
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("unmarshal cache entry: %w", err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

func (s *BoltStore) Put(ctx context.Context, generation string, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(generation) == "" {
		return fmt.Errorf("generation is required")
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(generation))
		if err != nil {
			return fmt.Errorf("create generation bucket: %w", err)
		}
		return bucket.Put([]byte(e.Key), payload)
	})
}

func (s *BoltStore) DeleteGeneration(ctx context.Context, generation string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(generation)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(generation))
	})
}

func (s *BoltStore) Generations(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (s *BoltStore) Keys(ctx context.Context, generation string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(generation))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
