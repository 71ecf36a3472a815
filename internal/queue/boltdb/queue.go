// Package boltdb implements the sync queue on top of bbolt. Operations
// are keyed by a monotonically increasing sequence number so FIFO order
// survives restarts; queue writes are append or delete only, never
// in-place mutation of live batches, which keeps crash recovery trivial.
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.etcd.io/bbolt"

	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/queue"
)

var (
	bucketOps     = []byte("ops")
	bucketPending = []byte("ops_by_entity")
	bucketDead    = []byte("deadletter")
)

// Config bounds the retry policy.
type Config struct {
	// BaseDelay is the first retry interval; each attempt doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
	// MaxAttempts is the attempt count past which an operation is
	// dead-lettered.
	MaxAttempts int
}

// DefaultConfig matches the bounds used in production.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   2 * time.Second,
		MaxDelay:    5 * time.Minute,
		MaxAttempts: 8,
	}
}

// Queue is the bbolt-backed implementation of queue.Queue.
type Queue struct {
	db  *bbolt.DB
	now func() time.Time
	cfg Config
}

// New opens (or creates) the queue database at dbPath.
func New(ctx context.Context, dbPath string, cfg Config) (*Queue, error) {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}

	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue db: %w", err)
	}

	q := &Queue{db: db, cfg: cfg, now: time.Now}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketOps, bucketPending, bucketDead} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue buckets: %w", err)
	}

	return q, nil
}

// Close closes the queue database.
func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func entityKey(entityType, id string) []byte {
	return []byte(entityType + "\x00" + id)
}

// Enqueue appends an operation, coalescing any pending one for the same
// entity; see queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, op *models.SyncOperation) error {
	if q.db == nil {
		return queue.ErrClosed
	}
	if op.EntityType == "" || op.EntityID == "" {
		return fmt.Errorf("operation must carry entity type and id")
	}

	err := q.db.Update(func(tx *bbolt.Tx) error {
		ops := tx.Bucket(bucketOps)
		pending := tx.Bucket(bucketPending)
		ekey := entityKey(op.EntityType, op.EntityID)

		kind := op.Kind
		if prevSeq := pending.Get(ekey); prevSeq != nil {
			prevData := ops.Get(prevSeq)
			if prevData != nil {
				var prev models.SyncOperation
				if err := json.Unmarshal(prevData, &prev); err != nil {
					return fmt.Errorf("%w: %v", queue.ErrCorrupt, err)
				}

				// A delete over a pending create cancels both:
				// the server never learned of the record.
				if kind == models.OpDelete && prev.Kind == models.OpCreate {
					if err := ops.Delete(prevSeq); err != nil {
						return err
					}
					return pending.Delete(ekey)
				}

				// The server still needs the create before it can
				// accept updates for the record.
				if prev.Kind == models.OpCreate && kind == models.OpUpdate {
					kind = models.OpCreate
				}

				if err := ops.Delete(prevSeq); err != nil {
					return err
				}
			}
		}

		seq, err := ops.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		stored := *op
		stored.Seq = seq
		stored.Kind = kind
		stored.AttemptCount = 0
		stored.LastError = ""
		if stored.EnqueuedAt.IsZero() {
			stored.EnqueuedAt = q.now()
		}
		stored.NextAttemptAt = stored.EnqueuedAt

		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}
		if err := ops.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("failed to save operation: %w", err)
		}
		return pending.Put(ekey, seqKey(seq))
	})
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	return nil
}

// PeekBatch returns up to max due operations in enqueue order.
func (q *Queue) PeekBatch(ctx context.Context, max int) ([]*models.SyncOperation, error) {
	if q.db == nil {
		return nil, queue.ErrClosed
	}

	now := q.now()
	var batch []*models.SyncOperation
	err := q.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketOps).Cursor()
		for k, v := c.First(); k != nil && len(batch) < max; k, v = c.Next() {
			op := &models.SyncOperation{}
			if err := json.Unmarshal(v, op); err != nil {
				return fmt.Errorf("%w: %v", queue.ErrCorrupt, err)
			}
			if op.Due(now) {
				batch = append(batch, op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// Ack durably removes acknowledged operations.
func (q *Queue) Ack(ctx context.Context, seqs []uint64) error {
	if q.db == nil {
		return queue.ErrClosed
	}

	err := q.db.Update(func(tx *bbolt.Tx) error {
		ops := tx.Bucket(bucketOps)
		pending := tx.Bucket(bucketPending)
		for _, seq := range seqs {
			key := seqKey(seq)
			data := ops.Get(key)
			if data == nil {
				continue // already gone; ack is idempotent
			}
			var op models.SyncOperation
			if err := json.Unmarshal(data, &op); err != nil {
				return fmt.Errorf("%w: %v", queue.ErrCorrupt, err)
			}
			if err := ops.Delete(key); err != nil {
				return err
			}
			ekey := entityKey(op.EntityType, op.EntityID)
			if cur := pending.Get(ekey); cur != nil && binary.BigEndian.Uint64(cur) == seq {
				if err := pending.Delete(ekey); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack failed: %w", err)
	}
	return nil
}

// Reschedule defers a failed operation with exponential backoff, moving
// it to the dead-letter set past the attempt cap.
func (q *Queue) Reschedule(ctx context.Context, seq uint64, reason string) error {
	if q.db == nil {
		return queue.ErrClosed
	}

	err := q.db.Update(func(tx *bbolt.Tx) error {
		ops := tx.Bucket(bucketOps)
		key := seqKey(seq)
		data := ops.Get(key)
		if data == nil {
			return queue.ErrOpNotFound
		}
		var op models.SyncOperation
		if err := json.Unmarshal(data, &op); err != nil {
			return fmt.Errorf("%w: %v", queue.ErrCorrupt, err)
		}

		op.AttemptCount++
		op.LastError = reason

		if op.AttemptCount >= q.cfg.MaxAttempts {
			// Dead-letter: out of the active path so one poisoned
			// operation cannot stall every other entity.
			deadData, err := json.Marshal(&op)
			if err != nil {
				return fmt.Errorf("failed to marshal operation: %w", err)
			}
			if err := tx.Bucket(bucketDead).Put(key, deadData); err != nil {
				return err
			}
			if err := ops.Delete(key); err != nil {
				return err
			}
			pending := tx.Bucket(bucketPending)
			ekey := entityKey(op.EntityType, op.EntityID)
			if cur := pending.Get(ekey); cur != nil && binary.BigEndian.Uint64(cur) == seq {
				return pending.Delete(ekey)
			}
			return nil
		}

		op.NextAttemptAt = q.now().Add(q.delay(op.AttemptCount))
		updated, err := json.Marshal(&op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}
		return ops.Put(key, updated)
	})
	if err != nil {
		return fmt.Errorf("reschedule failed: %w", err)
	}
	return nil
}

// delay computes the backoff for the nth attempt (1-based).
func (q *Queue) delay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = q.cfg.MaxDelay
	bo.MaxElapsedTime = 0

	d := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}

// DeadLetters returns permanently failed operations for inspection.
func (q *Queue) DeadLetters(ctx context.Context) ([]*models.SyncOperation, error) {
	if q.db == nil {
		return nil, queue.ErrClosed
	}

	var out []*models.SyncOperation
	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDead).ForEach(func(k, v []byte) error {
			op := &models.SyncOperation{}
			if err := json.Unmarshal(v, op); err != nil {
				return fmt.Errorf("%w: %v", queue.ErrCorrupt, err)
			}
			out = append(out, op)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns the number of pending and dead-lettered operations.
func (q *Queue) Stats(ctx context.Context) (int, int, error) {
	if q.db == nil {
		return 0, 0, queue.ErrClosed
	}

	var pending, dead int
	err := q.db.View(func(tx *bbolt.Tx) error {
		pending = tx.Bucket(bucketOps).Stats().KeyN
		dead = tx.Bucket(bucketDead).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return pending, dead, nil
}

// Rebuild discards pending state and re-synthesizes operations from the
// dirty records of the local store. The queue is a derived cache of
// intent; the dirty flags are the durable source of "what is unsynced".
func (q *Queue) Rebuild(ctx context.Context, dirty []*models.Entity) (int, error) {
	if q.db == nil {
		return 0, queue.ErrClosed
	}

	err := q.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketOps, bucketPending} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild reset failed: %w", err)
	}

	count := 0
	for _, e := range dirty {
		op := queue.OperationForEntity(e)
		if err := q.Enqueue(ctx, op); err != nil {
			return count, fmt.Errorf("rebuild enqueue failed: %w", err)
		}
		count++
	}
	return count, nil
}
