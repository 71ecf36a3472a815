package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/queue"
)

func createTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue_test.db")

	q, err := New(context.Background(), dbPath, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, q.Close())
	})
	return q
}

func taskOp(id string, kind models.OperationKind) *models.SyncOperation {
	return &models.SyncOperation{
		EntityType: models.EntityTypeTask,
		EntityID:   id,
		Kind:       kind,
		Payload: &models.Entity{
			ID: id, Type: models.EntityTypeTask,
			Fields: map[string]any{"title": id},
		},
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, q.Enqueue(ctx, taskOp(id, models.OpCreate)))
	}

	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "first", batch[0].EntityID)
	assert.Equal(t, "second", batch[1].EntityID)
	assert.Equal(t, "third", batch[2].EntityID)
}

func TestQueue_PeekBatchHonorsMax(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, taskOp(id, models.OpCreate)))
	}

	batch, err := q.PeekBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestQueue_CoalesceUpdateOverUpdate(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	require.NoError(t, q.Enqueue(ctx, taskOp("other", models.OpCreate)))

	first := taskOp("task-1", models.OpUpdate)
	first.Payload.Fields["title"] = "old edit"
	require.NoError(t, q.Enqueue(ctx, first))

	second := taskOp("task-1", models.OpUpdate)
	second.Payload.Fields["title"] = "new edit"
	require.NoError(t, q.Enqueue(ctx, second))

	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	// One pending op per entity, holding the latest payload, and the
	// coalesced op moves to the back of the queue.
	assert.Equal(t, "other", batch[0].EntityID)
	assert.Equal(t, "task-1", batch[1].EntityID)
	assert.Equal(t, "new edit", batch[1].Payload.Fields["title"])
}

func TestQueue_CoalesceUpdateOverCreateKeepsCreate(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpCreate)))
	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpUpdate)))

	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, models.OpCreate, batch[0].Kind)
}

func TestQueue_DeleteOverPendingCreateCancelsBoth(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpCreate)))
	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpDelete)))

	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	pending, dead, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, dead)
}

func TestQueue_DeleteOverPendingUpdateSurvives(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpUpdate)))
	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpDelete)))

	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, models.OpDelete, batch[0].Kind)
}

func TestQueue_AckRemoves(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpCreate)))
	require.NoError(t, q.Enqueue(ctx, taskOp("task-2", models.OpCreate)))

	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, q.Ack(ctx, []uint64{batch[0].Seq}))

	remaining, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "task-2", remaining[0].EntityID)

	// Acking twice (or acking the unknown) is a no-op.
	require.NoError(t, q.Ack(ctx, []uint64{batch[0].Seq, 9999}))
}

func TestQueue_RescheduleBacksOff(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpCreate)))
	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, q.Reschedule(ctx, batch[0].Seq, "server unreachable"))

	// Not due yet, so the batch is empty until the delay elapses.
	batch, err = q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	// Still counted as pending.
	pending, _, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// Advance the clock past the first backoff interval.
	q.now = func() time.Time { return time.Now().Add(DefaultConfig().BaseDelay + time.Second) }
	batch, err = q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].AttemptCount)
	assert.Equal(t, "server unreachable", batch[0].LastError)
}

func TestQueue_RescheduleUnknownSeq(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	err := q.Reschedule(ctx, 42, "whatever")
	assert.ErrorIs(t, err, queue.ErrOpNotFound)
}

func TestQueue_DeadLetterAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	q := createTestQueue(t, cfg)

	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpCreate)))
	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	seq := batch[0].Seq

	require.NoError(t, q.Reschedule(ctx, seq, "attempt 1 failed"))
	require.NoError(t, q.Reschedule(ctx, seq, "attempt 2 failed"))

	pending, dead, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, 1, dead)

	letters, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "task-1", letters[0].EntityID)
	assert.Equal(t, "attempt 2 failed", letters[0].LastError)
	assert.Equal(t, 2, letters[0].AttemptCount)

	// The dead-lettered entity accepts fresh operations.
	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpUpdate)))
	pending, _, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queue_reopen.db")

	q, err := New(ctx, dbPath, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpCreate)))
	require.NoError(t, q.Close())

	q2, err := New(ctx, dbPath, DefaultConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, q2.Close()) }()

	batch, err := q2.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "task-1", batch[0].EntityID)
}

func TestQueue_CorruptEntryDetected(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	require.NoError(t, q.Enqueue(ctx, taskOp("task-1", models.OpCreate)))

	// Scribble over the stored operation.
	err := q.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte("ops")).Cursor()
		k, _ := c.First()
		return tx.Bucket([]byte("ops")).Put(k, []byte("not json"))
	})
	require.NoError(t, err)

	_, err = q.PeekBatch(ctx, 10)
	assert.ErrorIs(t, err, queue.ErrCorrupt)
}

func TestQueue_Rebuild(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, DefaultConfig())

	// Stale entries that no longer reflect the store.
	require.NoError(t, q.Enqueue(ctx, taskOp("stale-1", models.OpCreate)))
	require.NoError(t, q.Enqueue(ctx, taskOp("stale-2", models.OpUpdate)))

	dirty := []*models.Entity{
		{ID: "fresh-create", Type: models.EntityTypeTask, IsDirty: true,
			Fields: map[string]any{"title": "new"}},
		{ID: "fresh-update", Type: models.EntityTypeTask, IsDirty: true,
			Fields: map[string]any{"title": "edited"},
			Base:   &models.BaseSnapshot{Version: 2}},
		{ID: "fresh-delete", Type: models.EntityTypeTask, IsDirty: true,
			IsDeleted: true,
			Base:      &models.BaseSnapshot{Version: 3}},
	}

	count, err := q.Rebuild(ctx, dirty)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	batch, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	kinds := make(map[string]models.OperationKind, len(batch))
	for _, op := range batch {
		kinds[op.EntityID] = op.Kind
	}
	assert.Equal(t, models.OpCreate, kinds["fresh-create"])
	assert.Equal(t, models.OpUpdate, kinds["fresh-update"])
	assert.Equal(t, models.OpDelete, kinds["fresh-delete"])
}

func TestOperationForEntity(t *testing.T) {
	create := &models.Entity{ID: "a", Type: models.EntityTypeTask}
	assert.Equal(t, models.OpCreate, queue.OperationForEntity(create).Kind)

	update := &models.Entity{ID: "a", Type: models.EntityTypeTask,
		Base: &models.BaseSnapshot{Version: 1}}
	assert.Equal(t, models.OpUpdate, queue.OperationForEntity(update).Kind)

	del := &models.Entity{ID: "a", Type: models.EntityTypeTask, IsDeleted: true}
	assert.Equal(t, models.OpDelete, queue.OperationForEntity(del).Kind)
}
