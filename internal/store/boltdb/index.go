package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/store"
)

// indexKey orders entries by timestamp, then id. The NUL separator keeps
// ids from bleeding into the timestamp ordering.
func indexKey(ts time.Time, id string) []byte {
	return []byte(ts.UTC().Format(time.RFC3339Nano) + "\x00" + id)
}

// indexedTime extracts the indexed timestamp from an entity's payload,
// if the type has an index and the field holds a parseable RFC 3339
// string. Deleted records are never indexed.
func (s *Store) indexedTime(e *models.Entity) (time.Time, bool) {
	field, ok := s.indexes[e.Type]
	if !ok || e.IsDeleted {
		return time.Time{}, false
	}
	raw, ok := e.Fields[field].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// updateIndex reconciles the index bucket with a record transition. Must
// run inside the same write transaction as the entity put.
func (s *Store) updateIndex(tx *bbolt.Tx, old, updated *models.Entity) error {
	if _, ok := s.indexes[updated.Type]; !ok {
		return nil
	}

	bucket, err := tx.CreateBucketIfNotExists(indexBucket(updated.Type))
	if err != nil {
		return fmt.Errorf("failed to create index bucket: %w", err)
	}

	if old != nil {
		if ts, ok := s.indexedTime(old); ok {
			if err := bucket.Delete(indexKey(ts, old.ID)); err != nil {
				return fmt.Errorf("failed to drop index entry: %w", err)
			}
		}
	}
	if ts, ok := s.indexedTime(updated); ok {
		if err := bucket.Put(indexKey(ts, updated.ID), []byte(updated.ID)); err != nil {
			return fmt.Errorf("failed to write index entry: %w", err)
		}
	}
	return nil
}

// QueryTimeRange returns live entities whose indexed time field falls in
// [from, to), in ascending time order.
func (s *Store) QueryTimeRange(ctx context.Context, entityType string, from, to time.Time) ([]*models.Entity, error) {
	if s.db == nil {
		return nil, store.ErrStorageClosed
	}
	if _, ok := s.indexes[entityType]; !ok {
		return nil, fmt.Errorf("no time index declared for type %q", entityType)
	}

	var out []*models.Entity
	err := s.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(indexBucket(entityType))
		ents := tx.Bucket(entityBucket(entityType))
		if idx == nil || ents == nil {
			return nil
		}

		c := idx.Cursor()
		min := indexKey(from, "")
		max := indexKey(to, "")
		for k, id := c.Seek(min); k != nil && string(k) < string(max); k, id = c.Next() {
			data := ents.Get(id)
			if data == nil {
				continue
			}
			e, err := decodeEntity(data)
			if err != nil {
				return err
			}
			if !e.IsDeleted {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("time range query failed: %w", err)
	}
	return out, nil
}

func encodeEntity(e *models.Entity) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity: %w", err)
	}
	return data, nil
}

func decodeEntity(data []byte) (*models.Entity, error) {
	e := &models.Entity{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return e, nil
}
