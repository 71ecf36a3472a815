package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/hearthsync/internal/store"
)

// GetCursor returns the persisted pull cursor for the type.
func (s *Store) GetCursor(ctx context.Context, entityType string) (string, error) {
	if s.db == nil {
		return "", store.ErrStorageClosed
	}

	var cursor string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCursors)
		if bucket == nil {
			return store.ErrNoCursor
		}
		data := bucket.Get([]byte(entityType))
		if data == nil {
			return store.ErrNoCursor
		}
		cursor = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return cursor, nil
}

// SaveCursor durably replaces the pull cursor for the type. The engine
// calls this only after a pulled batch was applied in full.
func (s *Store) SaveCursor(ctx context.Context, entityType, cursor string) error {
	if s.db == nil {
		return store.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketCursors)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(entityType), []byte(cursor))
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
