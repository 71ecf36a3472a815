// Package boltdb implements the local store on top of bbolt. Records are
// stored as JSON values in one bucket per entity type, with an optional
// time index per type for range queries. bbolt serializes writers, which
// gives the single-writer-per-record guarantee the sync cycle relies on,
// while readers stay concurrent.
package boltdb

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/store"
)

var bucketCursors = []byte("cursors")

// Options configures optional store behavior.
type Options struct {
	// TimeIndexes maps an entity type to the name of a payload field
	// holding an RFC 3339 timestamp. Types listed here get an index
	// bucket serving QueryTimeRange.
	TimeIndexes map[string]string
}

// DefaultOptions indexes calendar events by their start time.
func DefaultOptions() Options {
	return Options{
		TimeIndexes: map[string]string{
			models.EntityTypeEvent: "startsAt",
		},
	}
}

// Store is the bbolt-backed implementation of store.Store and
// store.CursorStore.
type Store struct {
	db      *bbolt.DB
	bus     *store.Bus
	indexes map[string]string
}

// New opens (or creates) the database file at dbPath.
func New(ctx context.Context, dbPath string, opts Options) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Store{
		db:      db,
		bus:     store.NewBus(),
		indexes: opts.TimeIndexes,
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCursors)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Events returns the change bus fed by every committed write.
func (s *Store) Events() *store.Bus {
	return s.bus
}

func entityBucket(entityType string) []byte {
	return []byte("ent_" + entityType)
}

func indexBucket(entityType string) []byte {
	return []byte("idx_" + entityType)
}

// Get retrieves an entity by type and id.
func (s *Store) Get(ctx context.Context, entityType, id string) (*models.Entity, error) {
	if s.db == nil {
		return nil, store.ErrStorageClosed
	}

	var e *models.Entity
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(entityBucket(entityType))
		if bucket == nil {
			return store.ErrNotFound
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return store.ErrNotFound
		}
		var err error
		e, err = decodeEntity(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Put persists an entity according to its origin; see store.Store.
func (s *Store) Put(ctx context.Context, e *models.Entity, origin models.ChangeOrigin) (*models.Entity, error) {
	if s.db == nil {
		return nil, store.ErrStorageClosed
	}
	if e.ID == "" || e.Type == "" {
		return nil, fmt.Errorf("entity must carry id and type")
	}

	stored := e.Clone()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(entityBucket(e.Type))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		var existing *models.Entity
		if data := bucket.Get([]byte(e.ID)); data != nil {
			if existing, err = decodeEntity(data); err != nil {
				return err
			}
		}

		switch origin {
		case models.OriginLocal:
			// Optimistic local mutation: bump the version, mark
			// dirty, capture the last clean state as the merge base.
			if existing != nil {
				stored.Version = existing.Version + 1
				if existing.IsDirty {
					stored.Base = existing.Base
				} else {
					stored.Base = &models.BaseSnapshot{
						Version: existing.Version,
						Fields:  models.CloneFields(existing.Fields),
					}
				}
			} else {
				stored.Version = 1
				stored.Base = nil
			}
			stored.IsDirty = true
		case models.OriginRemote:
			// The engine writes resolved results verbatim. Versions
			// of clean records never regress; a dirty record carries
			// a provisional local version that a push confirmation
			// may replace with the lower server-assigned one.
			if existing != nil && !existing.IsDirty && stored.Version < existing.Version {
				return store.ErrStaleWrite
			}
		default:
			return fmt.Errorf("unknown change origin %q", origin)
		}

		data, err := encodeEntity(stored)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(e.ID), data); err != nil {
			return fmt.Errorf("failed to save entity: %w", err)
		}

		return s.updateIndex(tx, existing, stored)
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(models.ChangeEvent{
		At:     time.Now(),
		Entity: stored.Clone(),
		Origin: origin,
	})
	return stored, nil
}

// Delete tombstones a record so the deletion can propagate.
func (s *Store) Delete(ctx context.Context, entityType, id, actor string) (*models.Entity, error) {
	existing, err := s.Get(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	tombstone := existing.Clone()
	tombstone.IsDeleted = true
	tombstone.UpdatedAt = time.Now()
	tombstone.LastModifiedBy = actor
	return s.Put(ctx, tombstone, models.OriginLocal)
}

// Query returns all live entities of a type matching the predicate.
func (s *Store) Query(ctx context.Context, entityType string, pred func(*models.Entity) bool) ([]*models.Entity, error) {
	if s.db == nil {
		return nil, store.ErrStorageClosed
	}

	var out []*models.Entity
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(entityBucket(entityType))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			e, err := decodeEntity(v)
			if err != nil {
				return err
			}
			if e.IsDeleted {
				return nil
			}
			if pred == nil || pred(e) {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return out, nil
}

// Dirty returns every record with unconfirmed local changes.
func (s *Store) Dirty(ctx context.Context) ([]*models.Entity, error) {
	if s.db == nil {
		return nil, store.ErrStorageClosed
	}

	var out []*models.Entity
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bbolt.Bucket) error {
			if len(name) < 4 || string(name[:4]) != "ent_" {
				return nil
			}
			return bucket.ForEach(func(k, v []byte) error {
				e, err := decodeEntity(v)
				if err != nil {
					return err
				}
				if e.IsDirty {
					out = append(out, e)
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dirty scan failed: %w", err)
	}
	return out, nil
}

// Compact physically purges tombstones deleted before the cutoff.
func (s *Store) Compact(ctx context.Context, entityType string, olderThan time.Time) (int, error) {
	if s.db == nil {
		return 0, store.ErrStorageClosed
	}

	purged := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(entityBucket(entityType))
		if bucket == nil {
			return nil
		}

		var victims [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			e, err := decodeEntity(v)
			if err != nil {
				return err
			}
			// Dirty tombstones still await confirmation; keep them.
			if e.IsDeleted && !e.IsDirty && e.UpdatedAt.Before(olderThan) {
				key := make([]byte, len(k))
				copy(key, k)
				victims = append(victims, key)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range victims {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to purge tombstone: %w", err)
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("compaction failed: %w", err)
	}
	return purged, nil
}
